package oscilloscope

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateSineRoundTrip(t *testing.T) {
	cfg := SyntheticConfig{
		Kind:        Sine,
		FrequencyHz: 1000,
		AmplitudeV:  1.0,
		OffsetV:     1.65,
	}
	frame := GenerateFrame(100000, 2000, cfg, nil)
	if len(frame.Samples) != 2000 {
		t.Fatalf("frame has %d samples, want 2000", len(frame.Samples))
	}
	for i, s := range frame.Samples {
		if s > MaxADCCode {
			t.Fatalf("sample %d = %d, outside ADC range", i, s)
		}
	}

	series := Render(frame, DefaultDisplaySettings())
	snap := Measure(series)
	if snap.FrequencyHz == nil {
		t.Fatal("no frequency estimate for a clean 1 kHz sine")
	}
	if math.Abs(*snap.FrequencyHz-1000)/1000 > 0.05 {
		t.Errorf("estimated %f Hz, want 1000 Hz within 5%%", *snap.FrequencyHz)
	}
	if math.Abs(snap.VPP-2.0) > 0.05 {
		t.Errorf("VPP = %f, want close to 2.0", snap.VPP)
	}
	if math.Abs(snap.VAvg) > 0.01 {
		t.Errorf("VAvg = %f, want close to 0 (offset at mid-rail)", snap.VAvg)
	}
}

func TestGenerateClipping(t *testing.T) {
	// Amplitude far beyond the rails: clip before quantize must still
	// produce valid ADC codes, pinned at the extremes.
	cfg := SyntheticConfig{Kind: Sine, FrequencyHz: 1000, AmplitudeV: 100, OffsetV: 1.65}
	frame := GenerateFrame(100000, 1000, cfg, nil)
	sawMin, sawMax := false, false
	for _, s := range frame.Samples {
		if s > MaxADCCode {
			t.Fatalf("sample %d outside ADC range", s)
		}
		if s == 0 {
			sawMin = true
		}
		if s == MaxADCCode {
			sawMax = true
		}
	}
	if !sawMin || !sawMax {
		t.Errorf("over-amplified sine should clip to both rails; min hit %t, max hit %t", sawMin, sawMax)
	}
}

func TestGenerateDC(t *testing.T) {
	cfg := SyntheticConfig{Kind: DC, OffsetV: 1.65}
	frame := GenerateFrame(100000, 100, cfg, nil)
	want := RawType(math.Round(1.65 / VoltsFullScale * float64(MaxADCCode)))
	for _, s := range frame.Samples {
		if s != want {
			t.Fatalf("DC sample = %d, want %d", s, want)
		}
	}
	snap := Measure(Render(frame, DefaultDisplaySettings()))
	assert.Zero(t, snap.VPP, "DC frame must measure VPP == 0")
	assert.Nil(t, snap.FrequencyHz, "DC frame must have no frequency estimate")
}

func TestGeneratePulseDuty(t *testing.T) {
	cfg := SyntheticConfig{
		Kind:        Pulse,
		FrequencyHz: 100,
		AmplitudeV:  1.0,
		OffsetV:     0.5,
		DutyPercent: 25,
	}
	// 10000 samples at 100 kS/s = 10 full periods.
	frame := GenerateFrame(100000, 10000, cfg, nil)
	high := 0
	for _, s := range frame.Samples {
		if CodeToVolts(s) > 0.5-VoltsMidRail+0.5 { // above the low level
			high++
		}
	}
	duty := float64(high) / float64(len(frame.Samples)) * 100
	if math.Abs(duty-25) > 1 {
		t.Errorf("pulse duty = %f%%, want 25%%", duty)
	}
}

func TestGenerateSquareLevels(t *testing.T) {
	cfg := SyntheticConfig{Kind: Square, FrequencyHz: 1000, AmplitudeV: 0.5, OffsetV: 1.65}
	frame := GenerateFrame(100000, 2000, cfg, nil)
	hi := RawType(math.Round((1.65 + 0.5) / VoltsFullScale * float64(MaxADCCode)))
	lo := RawType(math.Round((1.65 - 0.5) / VoltsFullScale * float64(MaxADCCode)))
	for i, s := range frame.Samples {
		if i == 0 {
			continue // sin(0) == 0 exactly, so sample 0 sits at the offset
		}
		if s != hi && s != lo {
			t.Fatalf("square sample %d = %d, want %d or %d", i, s, hi, lo)
		}
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	cfg := SyntheticConfig{Kind: Sine, FrequencyHz: 500, AmplitudeV: 0.8, OffsetV: 1.65, NoiseV: 0.1}
	a := GenerateFrame(100000, 500, cfg, rand.New(rand.NewPCG(7, 7)))
	b := GenerateFrame(100000, 500, cfg, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, a.Samples, b.Samples, "same seed must generate identical frames")

	c := GenerateFrame(100000, 500, cfg, rand.New(rand.NewPCG(8, 8)))
	assert.NotEqual(t, a.Samples, c.Samples, "different seeds should differ somewhere")
}

func TestGenerateNoiseSpread(t *testing.T) {
	cfg := SyntheticConfig{Kind: Noise, AmplitudeV: 0.9, OffsetV: 1.65}
	frame := GenerateFrame(100000, 5000, cfg, rand.New(rand.NewPCG(1, 1)))
	snap := Measure(Render(frame, DefaultDisplaySettings()))
	// std = amplitude/3 = 0.3; nearly all mass within ±1 V of center.
	if snap.VPP < 0.5 || snap.VPP > 2.5 {
		t.Errorf("noise VPP = %f, want a plausible Gaussian spread", snap.VPP)
	}
	if math.Abs(snap.VAvg) > 0.05 {
		t.Errorf("noise VAvg = %f, want near 0", snap.VAvg)
	}
}

func TestSyntheticSourceStreams(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.SampleRate = 1000000
	cfg.NSamples = 100 // 0.1 ms per frame: fast test
	cfg.Seed = 3
	src := NewSyntheticSource(cfg)
	defer src.Close()

	if err := src.Ping(time.Second); err != nil {
		t.Errorf("synthetic Ping returned %v", err)
	}
	if err := src.SendCommand(Start{}); err != nil {
		t.Fatalf("Start command: %v", err)
	}
	for i := 0; i < 3; i++ {
		select {
		case frame := <-src.Frames():
			if frame.SampleRate != 1000000 || len(frame.Samples) != 100 {
				t.Errorf("frame %d: rate %d, %d samples; want 1000000, 100", i, frame.SampleRate, len(frame.Samples))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no frame %d within 2 s", i)
		}
	}
	if err := src.SendCommand(Stop{}); err != nil {
		t.Fatalf("Stop command: %v", err)
	}

	// GetData must produce exactly one frame on demand after Stop.
	drainFrames(src.Frames())
	if err := src.SendCommand(GetData{}); err != nil {
		t.Fatalf("GetData command: %v", err)
	}
	select {
	case <-src.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame after GET_DATA")
	}
}

func drainFrames(frames <-chan *RawFrame) {
	for {
		select {
		case <-frames:
		default:
			return
		}
	}
}

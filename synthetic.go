package oscilloscope

// SyntheticSource computes waveforms in-process and feeds them through the
// same SignalSource interface as the real device, so everything downstream
// is exercised without hardware.

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// WaveformKind selects the synthetic waveform shape.
type WaveformKind int

// The supported waveform kinds.
const (
	Sine WaveformKind = iota
	Square
	Triangle
	Sawtooth
	Pulse
	Noise
	DC
)

// String returns the waveform name as shown to clients.
func (k WaveformKind) String() string {
	switch k {
	case Sine:
		return "Sine"
	case Square:
		return "Square"
	case Triangle:
		return "Triangle"
	case Sawtooth:
		return "Sawtooth"
	case Pulse:
		return "Pulse"
	case Noise:
		return "Noise"
	case DC:
		return "DC"
	}
	return fmt.Sprintf("WaveformKind(%d)", int(k))
}

// SyntheticConfig holds the generator parameters. Viper unmarshals a stored
// copy of this at startup and the RPC server accepts updates to it.
type SyntheticConfig struct {
	Kind        WaveformKind
	FrequencyHz float64
	AmplitudeV  float64
	OffsetV     float64
	NoiseV      float64
	DutyPercent float64
	SampleRate  uint32
	NSamples    int
	Seed        uint64 // 0 means non-deterministic
}

// DefaultSyntheticConfig is a 1 kHz sine centered at mid-rail, the same
// shape the demo firmware boots with.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Kind:        Sine,
		FrequencyHz: 1000,
		AmplitudeV:  1.0,
		OffsetV:     VoltsMidRail,
		DutyPercent: 50,
		SampleRate:  100000,
		NSamples:    2000,
	}
}

// GenerateFrame evaluates the configured waveform over n samples at
// sampleRate and quantizes it to ADC codes. Post-processing order is
// offset, then per-sample Gaussian noise, then clip to [0, 3.3] V, then
// quantize; clipping before quantizing guarantees valid codes for any
// amplitude/offset/noise choice.
func GenerateFrame(sampleRate uint32, n int, cfg SyntheticConfig, rnd *rand.Rand) *RawFrame {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rnd}

	samples := make([]RawType, n)
	f := cfg.FrequencyHz
	a := cfg.AmplitudeV
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		ft := f * t

		var v float64
		switch cfg.Kind {
		case Sine:
			v = a * math.Sin(2*math.Pi*ft)
		case Square:
			v = a * signf(math.Sin(2*math.Pi*ft))
		case Triangle:
			v = a * (2*math.Abs(2*(ft-math.Floor(ft+0.5))) - 1)
		case Sawtooth:
			v = a * 2 * (ft - math.Floor(ft+0.5))
		case Pulse:
			if math.Mod(ft, 1) < cfg.DutyPercent/100 {
				v = a
			}
		case Noise:
			if a != 0 {
				v = noise.Rand() * (a / 3)
			}
		case DC:
			v = 0
		}

		v += cfg.OffsetV
		if cfg.NoiseV > 0 {
			v += noise.Rand() * cfg.NoiseV
		}

		// Clip, then quantize.
		if v < 0 {
			v = 0
		} else if v > VoltsFullScale {
			v = VoltsFullScale
		}
		code := int(math.Round(v / VoltsFullScale * float64(MaxADCCode)))
		if code < 0 {
			code = 0
		} else if code > MaxADCCode {
			code = MaxADCCode
		}
		samples[i] = RawType(code)
	}
	return &RawFrame{SampleRate: sampleRate, Samples: samples}
}

func signf(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// SyntheticSource is the in-process SignalSource. Start/Stop/GetData
// commands control a timed generation loop; frames are paced at
// NSamples/SampleRate like a device streaming continuously.
type SyntheticSource struct {
	frames chan *RawFrame
	lost   chan struct{}
	abort  chan struct{}
	cmds   chan Command
	cfg    SyntheticConfig
	rnd    *rand.Rand
}

// NewSyntheticSource starts a generator with the given parameters.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSyntheticConfig().SampleRate
	}
	if cfg.NSamples <= 0 {
		cfg.NSamples = DefaultSyntheticConfig().NSamples
	}
	var rnd *rand.Rand
	if cfg.Seed != 0 {
		rnd = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	} else {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	ss := &SyntheticSource{
		frames: make(chan *RawFrame, frameChannelDepth),
		lost:   make(chan struct{}),
		abort:  make(chan struct{}),
		cmds:   make(chan Command),
		cfg:    cfg,
		rnd:    rnd,
	}
	go ss.run()
	return ss
}

func (ss *SyntheticSource) run() {
	running := false
	for {
		var emit <-chan time.Time
		if running {
			perBuf := time.Duration(float64(ss.cfg.NSamples) / float64(ss.cfg.SampleRate) * float64(time.Second))
			emit = time.After(perBuf)
		}
		select {
		case <-ss.abort:
			return
		case cmd := <-ss.cmds:
			switch c := cmd.(type) {
			case Start:
				running = true
			case Stop:
				running = false
			case GetData:
				ss.emitFrame()
			case SetRate:
				ss.cfg.SampleRate = c.Hz
			default:
				// Trigger and probe settings have no synthetic analog.
			}
		case <-emit:
			ss.emitFrame()
		}
	}
}

func (ss *SyntheticSource) emitFrame() {
	frame := GenerateFrame(ss.cfg.SampleRate, ss.cfg.NSamples, ss.cfg, ss.rnd)
	select {
	case ss.frames <- frame:
	case <-ss.abort:
	}
}

// SendCommand applies the commands that have a synthetic meaning and
// swallows the rest.
func (ss *SyntheticSource) SendCommand(cmd Command) error {
	select {
	case ss.cmds <- cmd:
		return nil
	case <-ss.abort:
		return &LinkError{Kind: Lost, Descriptor: "synthetic", Err: errSourceClosed}
	}
}

// Ping always succeeds; there is no transport to lose.
func (ss *SyntheticSource) Ping(time.Duration) error { return nil }

// Frames returns the completed-frame channel.
func (ss *SyntheticSource) Frames() <-chan *RawFrame { return ss.frames }

// Lost never fires for a synthetic source.
func (ss *SyntheticSource) Lost() <-chan struct{} { return ss.lost }

// Close stops the generation loop.
func (ss *SyntheticSource) Close() error {
	closeIfOpen(ss.abort)
	return nil
}

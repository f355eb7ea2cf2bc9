package oscilloscope

// Convert raw ADC frames into device-independent (time, voltage) series and
// compute the visible viewport for the current display settings.

// Conversion constants for the 12-bit ADC. The converter spans 0..3.3 V and
// mid-rail (1.65 V) is treated as the zero reference.
const (
	VoltsFullScale = 3.3
	VoltsMidRail   = 1.65
)

// minorPerDivision is the number of minor tick subdivisions per division.
const minorPerDivision = 5

// DisplaySettings holds the scale/offset/position state of the display.
// It is owned by the Controller; changes take effect on the next frame.
type DisplaySettings struct {
	VoltsPerDiv        float64
	TimePerDivMS       float64
	VerticalOffsetV    float64
	HorizontalOffsetMS float64
	TriggerLevelV      float64
	HDivisions         int
	VDivisions         int
}

// DefaultDisplaySettings returns the power-on display state: 0.5 V/div,
// 2 ms/div, no offsets, trigger at mid-rail, a 10x8 division grid.
func DefaultDisplaySettings() DisplaySettings {
	return DisplaySettings{
		VoltsPerDiv:   0.5,
		TimePerDivMS:  2.0,
		TriggerLevelV: VoltsMidRail,
		HDivisions:    10,
		VDivisions:    8,
	}
}

// Valid reports whether the settings can scale a frame without nonsense:
// both scales positive and at least one division each way.
func (s DisplaySettings) Valid() bool {
	return s.VoltsPerDiv > 0 && s.TimePerDivMS > 0 && s.HDivisions > 0 && s.VDivisions > 0
}

// RenderedSeries is a frame scaled into display coordinates. Both slices
// have the frame's length; both are empty in the "no data" condition.
// The sample rate is carried along so measurements can be taken from the
// series alone.
type RenderedSeries struct {
	TimeMS     []float64
	VoltageV   []float64
	SampleRate uint32
}

// Empty reports the "no data" condition.
func (r RenderedSeries) Empty() bool { return len(r.VoltageV) == 0 }

// CodeToVolts converts one ADC code to volts relative to mid-rail, so codes
// 0..4095 map onto [-1.65, +1.65].
func CodeToVolts(c RawType) float64 {
	return float64(c)*VoltsFullScale/float64(MaxADCCode) - VoltsMidRail
}

// Render scales frame into display coordinates. The buffer is centered at
// t=0 before the horizontal offset is applied; voltages are mid-rail
// referenced with the vertical offset subtracted. An empty frame yields an
// empty series.
func Render(frame *RawFrame, s DisplaySettings) RenderedSeries {
	out := RenderedSeries{}
	if frame == nil || len(frame.Samples) == 0 {
		return out
	}
	n := len(frame.Samples)
	rate := float64(frame.SampleRate)
	spanMS := float64(n) / rate * 1000.0

	out.SampleRate = frame.SampleRate
	out.TimeMS = make([]float64, n)
	out.VoltageV = make([]float64, n)
	for i, c := range frame.Samples {
		out.TimeMS[i] = float64(i)/rate*1000.0 - spanMS/2 + s.HorizontalOffsetMS
		out.VoltageV[i] = CodeToVolts(c) - s.VerticalOffsetV
	}
	return out
}

// Viewport is the visible axis window implied by the display settings. It
// does not depend on any sample buffer and is valid even with zero samples.
type Viewport struct {
	TMinMS, TMaxMS float64
	VMinV, VMaxV   float64
}

// Viewport computes the visible window: the time axis is centered on the
// horizontal offset and spans TimePerDiv*HDivisions; the voltage axis is
// centered on the vertical offset and spans VoltsPerDiv*VDivisions.
func (s DisplaySettings) Viewport() Viewport {
	tSpan := s.TimePerDivMS * float64(s.HDivisions) / 2
	vSpan := s.VoltsPerDiv * float64(s.VDivisions) / 2
	return Viewport{
		TMinMS: s.HorizontalOffsetMS - tSpan,
		TMaxMS: s.HorizontalOffsetMS + tSpan,
		VMinV:  s.VerticalOffsetV - vSpan,
		VMaxV:  s.VerticalOffsetV + vSpan,
	}
}

// Ticks holds axis tick positions. Major ticks fall exactly on division
// boundaries; minor ticks subdivide each division in 5.
type Ticks struct {
	Major []float64
	Minor []float64
}

func makeTicks(min, step float64, ndiv int) Ticks {
	t := Ticks{
		Major: make([]float64, ndiv+1),
		Minor: make([]float64, 0, ndiv*(minorPerDivision-1)),
	}
	for i := 0; i <= ndiv; i++ {
		t.Major[i] = min + float64(i)*step
	}
	sub := step / minorPerDivision
	for i := 0; i < ndiv; i++ {
		for j := 1; j < minorPerDivision; j++ {
			t.Minor = append(t.Minor, min+float64(i)*step+float64(j)*sub)
		}
	}
	return t
}

// TimeTicks returns the horizontal axis ticks for the current viewport.
func (s DisplaySettings) TimeTicks() Ticks {
	return makeTicks(s.Viewport().TMinMS, s.TimePerDivMS, s.HDivisions)
}

// VoltageTicks returns the vertical axis ticks for the current viewport.
func (s DisplaySettings) VoltageTicks() Ticks {
	return makeTicks(s.Viewport().VMinV, s.VoltsPerDiv, s.VDivisions)
}

// TriggerLinePosition is where the trigger level line is drawn in display
// coordinates. It is a rendering aid only and independent of any buffer.
func (s DisplaySettings) TriggerLinePosition() float64 {
	return s.TriggerLevelV - VoltsMidRail - s.VerticalOffsetV
}

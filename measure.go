package oscilloscope

import (
	"gonum.org/v1/gonum/stat"
)

// MeasurementSnapshot holds the voltage statistics and (when estimable) the
// fundamental frequency/period derived from one rendered series. The
// frequency and period pointers are nil when estimation is not possible.
type MeasurementSnapshot struct {
	VMax        float64
	VMin        float64
	VAvg        float64
	VPP         float64
	FrequencyHz *float64
	PeriodMS    *float64
}

// Measure computes voltage statistics and a zero-crossing frequency
// estimate from a rendered series.
//
// The frequency estimator counts sign changes of (v - mean): fewer than 3
// crossings yields no estimate; otherwise the mean crossing spacing, doubled
// (two crossings per period), divides the sample rate. This is deliberately
// the cheap heuristic rather than an FFT; it is biased by noise and
// harmonics and weak at low crossing counts.
func Measure(series RenderedSeries) MeasurementSnapshot {
	var snap MeasurementSnapshot
	if series.Empty() {
		return snap
	}

	v := series.VoltageV
	snap.VMax = v[0]
	snap.VMin = v[0]
	for _, x := range v[1:] {
		if x > snap.VMax {
			snap.VMax = x
		}
		if x < snap.VMin {
			snap.VMin = x
		}
	}
	snap.VAvg = stat.Mean(v, nil)
	snap.VPP = snap.VMax - snap.VMin

	crossings := zeroCrossings(v, snap.VAvg)
	if len(crossings) <= 2 {
		return snap
	}

	spacings := make([]float64, len(crossings)-1)
	for i := 1; i < len(crossings); i++ {
		spacings[i-1] = float64(crossings[i] - crossings[i-1])
	}
	// Two crossings per full period.
	samplesPerPeriod := stat.Mean(spacings, nil) * 2
	if samplesPerPeriod <= 0 {
		return snap
	}
	freq := float64(series.SampleRate) / samplesPerPeriod
	if freq <= 0 {
		return snap
	}
	period := 1000.0 / freq
	snap.FrequencyHz = &freq
	snap.PeriodMS = &period
	return snap
}

// zeroCrossings returns the indices i where sign(v[i+1]-mean) differs from
// sign(v[i]-mean).
func zeroCrossings(v []float64, mean float64) []int {
	var crossings []int
	prev := sign(v[0] - mean)
	for i := 1; i < len(v); i++ {
		cur := sign(v[i] - mean)
		if cur != prev {
			crossings = append(crossings, i-1)
		}
		prev = cur
	}
	return crossings
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

package oscilloscope

import "fmt"

// Ordered tables of the scale values the front panel may select. Callers
// address them by index so that any knob or remote client is validated the
// same way, independent of a widget.

// VoltsPerDivValues lists the permitted vertical scales, in volts, ascending.
var VoltsPerDivValues = []float64{
	0.01, 0.015, 0.02, 0.025, 0.03, 0.04, 0.05, 0.06, 0.075, 0.1,
	0.15, 0.2, 0.25, 0.5, 0.75, 1.0, 1.5, 2.0, 2.5, 5.0,
}

// TimePerDivValuesMS lists the permitted horizontal scales, in ms, ascending.
var TimePerDivValuesMS = []float64{
	0.1, 0.2, 0.25, 0.5, 0.75, 1.0, 1.5, 2.0, 2.5,
	5.0, 7.5, 10.0, 15.0, 20.0, 25.0, 50.0,
}

// SampleRates lists the sample rates the firmware accepts, in Hz.
var SampleRates = []uint32{10000, 50000, 100000, 200000, 500000, 1000000}

// ScaleByIndex returns table[index], or an error when the index is outside
// the table.
func ScaleByIndex(table []float64, index int) (float64, error) {
	if index < 0 || index >= len(table) {
		return 0, fmt.Errorf("scale index %d outside table of %d values", index, len(table))
	}
	return table[index], nil
}

// ValidSampleRate reports whether the firmware accepts rate.
func ValidSampleRate(rate uint32) bool {
	for _, r := range SampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// ValidProbeAttenuation reports whether p is a factor the firmware accepts.
func ValidProbeAttenuation(p ProbeAttenuation) bool {
	return p == Probe1x || p == Probe10x || p == Probe100x
}

package oscilloscope

// Decode the line-oriented text protocol spoken by the scope firmware into
// raw acquisition frames, and encode outgoing commands back into lines.

import (
	"fmt"
	"strconv"
	"strings"
)

// RawType holds one raw ADC sample.
type RawType uint16

// MaxADCCode is the largest sample value the 12-bit converter can produce.
const MaxADCCode = 4095

// RawFrame is one complete batch of samples plus the rate it was acquired at.
// It is immutable once constructed.
type RawFrame struct {
	SampleRate uint32 // samples per second, always > 0
	Samples    []RawType
}

// framePrefix starts every acquisition frame sent by the device.
const framePrefix = "DATA:"

// PongLine is the expected reply to a Ping command.
const PongLine = "PONG"

// CodecError describes a device line that could not be parsed as a frame.
type CodecError struct {
	Line   string
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("malformed frame line (%s): %q", e.Reason, e.Line)
}

// DecodeLine parses one newline-stripped device line of the form
// DATA:<rate>,<freq>,<vpp>,<mean>,<s0>,<s1>,...
// The freq/vpp/mean header fields are validated but discarded: the
// measurement engine recomputes them from the scaled series, so the client
// computation is the single source of truth.
func DecodeLine(line string) (*RawFrame, error) {
	if !strings.HasPrefix(line, framePrefix) {
		return nil, &CodecError{line, "missing DATA: prefix"}
	}
	fields := strings.Split(line[len(framePrefix):], ",")
	if len(fields) < 5 {
		return nil, &CodecError{line, fmt.Sprintf("%d fields, need at least 5", len(fields))}
	}

	rate64, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
	if err != nil {
		return nil, &CodecError{line, "sample rate is not an unsigned integer"}
	}
	if rate64 == 0 {
		return nil, &CodecError{line, "sample rate is zero"}
	}

	// Header fields 1..3 (device-reported freq, Vpp, mean) must still be
	// numeric for the frame to count as well-formed.
	for i := 1; i < 4; i++ {
		if _, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64); err != nil {
			return nil, &CodecError{line, fmt.Sprintf("header field %d is not numeric", i)}
		}
	}

	samples := make([]RawType, len(fields)-4)
	for i, f := range fields[4:] {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return nil, &CodecError{line, fmt.Sprintf("sample field %d is not an integer", i+4)}
		}
		if v < 0 || v > MaxADCCode {
			return nil, &CodecError{line, fmt.Sprintf("sample field %d out of ADC range", i+4)}
		}
		samples[i] = RawType(v)
	}
	return &RawFrame{SampleRate: uint32(rate64), Samples: samples}, nil
}

// TriggerMode selects how the firmware arms its trigger.
type TriggerMode int

// The trigger modes the firmware understands, wire values 0..2.
const (
	TriggerAuto TriggerMode = iota
	TriggerNormal
	TriggerSingle
)

// TriggerEdge selects the trigger slope, wire values 0..1.
type TriggerEdge int

// Trigger edges.
const (
	EdgeRising TriggerEdge = iota
	EdgeFalling
)

// ProbeAttenuation is the probe's multiplicative attenuation factor. It is
// forwarded to the device and tracked for status, but never folded into the
// voltage scaling on this side.
type ProbeAttenuation int

// Permitted probe attenuation factors.
const (
	Probe1x   ProbeAttenuation = 1
	Probe10x  ProbeAttenuation = 10
	Probe100x ProbeAttenuation = 100
)

// Command is one outgoing instruction to the device. Encode turns a Command
// into the single newline-terminated line the firmware expects.
type Command interface {
	commandLine() string
}

// Ping asks the device for a PONG liveness reply.
type Ping struct{}

// Start begins continuous acquisition.
type Start struct{}

// Stop ends continuous acquisition.
type Stop struct{}

// GetData requests a single frame.
type GetData struct{}

// SetRate sets the acquisition sample rate in Hz.
type SetRate struct{ Hz uint32 }

// SetTriggerMode sets the firmware trigger mode.
type SetTriggerMode struct{ Mode TriggerMode }

// SetTriggerEdge sets the firmware trigger slope.
type SetTriggerEdge struct{ Edge TriggerEdge }

// SetTriggerLevel sets the trigger level in volts.
type SetTriggerLevel struct{ Volts float64 }

// SetProbeAttenuation informs the firmware of the probe attenuation factor.
type SetProbeAttenuation struct{ Factor ProbeAttenuation }

func (Ping) commandLine() string    { return "PING" }
func (Start) commandLine() string   { return "START" }
func (Stop) commandLine() string    { return "STOP" }
func (GetData) commandLine() string { return "GET_DATA" }
func (c SetRate) commandLine() string {
	return fmt.Sprintf("RATE:%d", c.Hz)
}
func (c SetTriggerMode) commandLine() string {
	return fmt.Sprintf("TRIG_MODE:%d", int(c.Mode))
}
func (c SetTriggerEdge) commandLine() string {
	return fmt.Sprintf("TRIG_EDGE:%d", int(c.Edge))
}
func (c SetTriggerLevel) commandLine() string {
	return "TRIG_LEVEL:" + strconv.FormatFloat(c.Volts, 'g', -1, 64)
}
func (c SetProbeAttenuation) commandLine() string {
	return fmt.Sprintf("PROBE:%d", int(c.Factor))
}

// Encode serializes a command as one newline-terminated wire line.
func Encode(cmd Command) []byte {
	return []byte(cmd.commandLine() + "\n")
}

package oscilloscope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeValidFrames(t *testing.T) {
	var tests = []struct {
		line  string
		rate  uint32
		nsamp int
		first RawType
		last  RawType
	}{
		{"DATA:100000,1000.0,2.5,1.65,2048", 100000, 1, 2048, 2048},
		{"DATA:10000,0,0,0,0,4095,1,2,3", 10000, 5, 0, 3},
		{"DATA:1000000,999.9,3.3,1.2,100,200,300", 1000000, 3, 100, 300},
		{"DATA:50000, 1000, 2.5, 1.65, 7, 8", 50000, 2, 7, 8}, // tolerate spaces
	}
	for _, test := range tests {
		frame, err := DecodeLine(test.line)
		if err != nil {
			t.Errorf("DecodeLine(%q) returned error %v, want frame", test.line, err)
			continue
		}
		if frame.SampleRate != test.rate {
			t.Errorf("DecodeLine(%q).SampleRate = %d, want %d", test.line, frame.SampleRate, test.rate)
		}
		if len(frame.Samples) != test.nsamp {
			t.Errorf("DecodeLine(%q) yields %d samples, want %d", test.line, len(frame.Samples), test.nsamp)
		}
		if frame.Samples[0] != test.first || frame.Samples[len(frame.Samples)-1] != test.last {
			t.Errorf("DecodeLine(%q) samples [%d..%d], want [%d..%d]", test.line,
				frame.Samples[0], frame.Samples[len(frame.Samples)-1], test.first, test.last)
		}
	}
}

func TestDecodeFieldCount(t *testing.T) {
	// k comma-separated fields with k>=5 must yield k-4 samples.
	for k := 5; k <= 20; k++ {
		fields := make([]string, k)
		fields[0] = "100000"
		for i := 1; i < k; i++ {
			fields[i] = "1"
		}
		line := "DATA:" + strings.Join(fields, ",")
		frame, err := DecodeLine(line)
		if err != nil {
			t.Fatalf("DecodeLine with %d fields returned %v", k, err)
		}
		if len(frame.Samples) != k-4 {
			t.Errorf("DecodeLine with %d fields yields %d samples, want %d", k, len(frame.Samples), k-4)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	var badlines = []string{
		"",
		"PONG",
		"NOISE:1,2,3,4,5",
		"DATA",
		"DATA:100000,1,2,3",          // only 4 fields
		"DATA:100000,1,2",            // 3 fields
		"DATA:abc,1,2,3,4",           // rate not an integer
		"DATA:0,1,2,3,4",             // rate zero
		"DATA:-5,1,2,3,4",            // rate negative
		"DATA:100000,x,2,3,4",        // header not numeric
		"DATA:100000,1,2,3,4.5",      // sample not an integer
		"DATA:100000,1,2,3,4096",     // sample above ADC range
		"DATA:100000,1,2,3,-1",       // sample below ADC range
		"DATA:100000,1,2,3,12,,99",   // empty sample field
		"data:100000,1,2,3,4",        // prefix is case-sensitive
	}
	for _, line := range badlines {
		frame, err := DecodeLine(line)
		if err == nil {
			t.Errorf("DecodeLine(%q) returned frame %v, want CodecError", line, frame)
			continue
		}
		if _, ok := err.(*CodecError); !ok {
			t.Errorf("DecodeLine(%q) returned %T, want *CodecError", line, err)
		}
	}
}

func TestEncodeCommands(t *testing.T) {
	var tests = []struct {
		cmd  Command
		want string
	}{
		{Ping{}, "PING\n"},
		{Start{}, "START\n"},
		{Stop{}, "STOP\n"},
		{GetData{}, "GET_DATA\n"},
		{SetRate{100000}, "RATE:100000\n"},
		{SetRate{1000000}, "RATE:1000000\n"},
		{SetTriggerMode{TriggerAuto}, "TRIG_MODE:0\n"},
		{SetTriggerMode{TriggerNormal}, "TRIG_MODE:1\n"},
		{SetTriggerMode{TriggerSingle}, "TRIG_MODE:2\n"},
		{SetTriggerEdge{EdgeRising}, "TRIG_EDGE:0\n"},
		{SetTriggerEdge{EdgeFalling}, "TRIG_EDGE:1\n"},
		{SetTriggerLevel{1.65}, "TRIG_LEVEL:1.65\n"},
		{SetTriggerLevel{-0.5}, "TRIG_LEVEL:-0.5\n"},
		{SetProbeAttenuation{Probe1x}, "PROBE:1\n"},
		{SetProbeAttenuation{Probe10x}, "PROBE:10\n"},
		{SetProbeAttenuation{Probe100x}, "PROBE:100\n"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, string(Encode(test.cmd)), "Encode(%#v)", test.cmd)
	}
}

func TestDecodeEncodeIndependence(t *testing.T) {
	// Decoding must not be confused by a frame whose samples happen to
	// contain header-like values.
	frame, err := DecodeLine("DATA:200000,200000,200000,200000,200000")
	if err == nil {
		t.Errorf("sample value 200000 is outside ADC range; got frame %v", frame)
	}
}

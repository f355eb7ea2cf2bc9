package oscilloscope

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeLink is an in-memory LineLink: reads pop from a queue, writes are
// recorded, and a failure can be injected at any point.
type fakeLink struct {
	mu       sync.Mutex
	lines    []string
	written  []string
	autoPong bool
	fail     bool
	closed   bool
}

func (f *fakeLink) push(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, lines...)
}

func (f *fakeLink) failNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = true
}

func (f *fakeLink) WriteLine(line []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return &LinkError{Kind: Lost, Descriptor: "fake", Err: errors.New("injected failure")}
	}
	f.written = append(f.written, string(line))
	if f.autoPong && string(line) == "PING\n" {
		f.lines = append(f.lines, PongLine)
	}
	return nil
}

func (f *fakeLink) TryReadLine() (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", false, &LinkError{Kind: Lost, Descriptor: "fake", Err: errors.New("injected failure")}
	}
	if len(f.lines) == 0 {
		return "", false, nil
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, true, nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) writtenLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

func TestDeviceSourceDeliversFrames(t *testing.T) {
	link := &fakeLink{}
	link.push(
		"booting v1.2...", // boot chatter is ignored
		"DATA:100000,1000,2.5,1.65,1,2,3",
		"DATA:not,a,valid,frame,line", // dropped, loop continues
		"DATA:200000,1,1,1,7,8,9,10",
	)
	src := NewDeviceSource(link)
	defer src.Close()

	frame := <-src.Frames()
	if frame.SampleRate != 100000 || len(frame.Samples) != 3 {
		t.Errorf("first frame: rate %d, %d samples; want 100000, 3", frame.SampleRate, len(frame.Samples))
	}
	frame = <-src.Frames()
	if frame.SampleRate != 200000 || len(frame.Samples) != 4 {
		t.Errorf("second frame: rate %d, %d samples; want 200000, 4", frame.SampleRate, len(frame.Samples))
	}
	select {
	case <-src.Lost():
		t.Error("source reported loss with a healthy link")
	default:
	}
}

func TestDeviceSourceCommandsAndPing(t *testing.T) {
	link := &fakeLink{}
	src := NewDeviceSource(link)
	defer src.Close()

	if err := src.SendCommand(SetRate{100000}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	lines := link.writtenLines()
	if len(lines) != 1 || lines[0] != "RATE:100000\n" {
		t.Errorf("written = %v, want [RATE:100000\\n]", lines)
	}

	link.mu.Lock()
	link.autoPong = true
	link.mu.Unlock()
	if err := src.Ping(time.Second); err != nil {
		t.Errorf("Ping with a responsive device returned %v", err)
	}
	link.mu.Lock()
	link.autoPong = false
	link.mu.Unlock()
	if err := src.Ping(20 * time.Millisecond); err == nil {
		t.Error("Ping without a PONG should time out")
	}
}

func TestDeviceSourceLossSignalledOnce(t *testing.T) {
	link := &fakeLink{}
	src := NewDeviceSource(link)
	link.failNow()

	select {
	case <-src.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("loss never signalled")
	}
	// Already closed: a second receive must not block, and SendCommand on
	// the dead link must surface the loss without panicking.
	<-src.Lost()
	if err := src.SendCommand(Ping{}); err == nil {
		t.Error("SendCommand on a lost link returned nil")
	}
	src.Close()
	if !link.closed {
		t.Error("Close did not close the link")
	}
}

func TestDeviceSourceCloseStopsWorker(t *testing.T) {
	link := &fakeLink{}
	src := NewDeviceSource(link)
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !link.closed {
		t.Error("link not closed after source Close")
	}
	// A frame pushed after Close must not be delivered.
	link.push("DATA:100000,0,0,0,1,2,3")
	select {
	case frame := <-src.Frames():
		if frame != nil {
			t.Error("received a frame after Close")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

package oscilloscope

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	errPongTimeout  = errors.New("no PONG before timeout")
	errSourceClosed = errors.New("source is closed")
)

// SignalSource is the interface for providers of raw acquisition frames:
// the real device behind a serial link, or the synthetic generator.
type SignalSource interface {
	// SendCommand forwards one command toward the device (or its
	// synthetic stand-in). It never mutates local acquisition state; the
	// device remains the source of truth.
	SendCommand(cmd Command) error
	// Ping checks liveness. A failure is a link-health signal for the
	// caller to log, not a fatal error.
	Ping(timeout time.Duration) error
	// Frames is the single-consumer channel of completed frames.
	Frames() <-chan *RawFrame
	// Lost is closed exactly once if the source dies mid-session.
	Lost() <-chan struct{}
	Close() error
}

// sourcePollInterval is the sleep between empty read polls.
const sourcePollInterval = 10 * time.Millisecond

// frameChannelDepth bounds the worker-to-controller frame queue.
const frameChannelDepth = 16

// DeviceSource produces frames by running a poll loop over a LineLink and
// decoding what arrives. The loop runs on its own goroutine so blocking
// I/O never stalls the consumer side.
type DeviceSource struct {
	link     LineLink
	frames   chan *RawFrame
	lost     chan struct{}
	pong     chan struct{}
	abort    chan struct{}
	lostOnce sync.Once
	done     sync.WaitGroup
}

// NewDeviceSource wraps an open link and starts the read worker.
func NewDeviceSource(link LineLink) *DeviceSource {
	ds := &DeviceSource{
		link:   link,
		frames: make(chan *RawFrame, frameChannelDepth),
		lost:   make(chan struct{}),
		pong:   make(chan struct{}, 1),
		abort:  make(chan struct{}),
	}
	ds.done.Add(1)
	go ds.pollLoop()
	return ds
}

// pollLoop is the worker that owns the link: poll for a line, sleep
// briefly when there is none, repeat. Malformed lines are dropped and the
// loop continues; I/O failure signals loss exactly once and ends the loop.
func (ds *DeviceSource) pollLoop() {
	defer ds.done.Done()
	for {
		select {
		case <-ds.abort:
			return
		default:
		}

		line, ok, err := ds.link.TryReadLine()
		if err != nil {
			ds.signalLost()
			return
		}
		if !ok {
			time.Sleep(sourcePollInterval)
			continue
		}

		switch {
		case line == PongLine:
			select {
			case ds.pong <- struct{}{}:
			default:
			}
		case strings.HasPrefix(line, framePrefix):
			frame, err := DecodeLine(line)
			if err != nil {
				ProblemLogger.Printf("dropping device line: %v", err)
				continue
			}
			select {
			case ds.frames <- frame:
			case <-ds.abort:
				return
			}
		default:
			// Boot chatter and unknown lines are ignored.
		}
	}
}

func (ds *DeviceSource) signalLost() {
	ds.lostOnce.Do(func() { close(ds.lost) })
}

// SendCommand encodes and writes one command line.
func (ds *DeviceSource) SendCommand(cmd Command) error {
	if err := ds.link.WriteLine(Encode(cmd)); err != nil {
		ds.signalLost()
		return err
	}
	return nil
}

// Ping sends PING and waits up to timeout for the PONG reply.
func (ds *DeviceSource) Ping(timeout time.Duration) error {
	// Drain any stale pong first.
	select {
	case <-ds.pong:
	default:
	}
	if err := ds.SendCommand(Ping{}); err != nil {
		return err
	}
	select {
	case <-ds.pong:
		return nil
	case <-time.After(timeout):
		return &LinkError{Kind: Lost, Descriptor: "ping", Err: errPongTimeout}
	}
}

// Frames returns the completed-frame channel.
func (ds *DeviceSource) Frames() <-chan *RawFrame { return ds.frames }

// Lost returns the channel closed on unrecoverable link loss.
func (ds *DeviceSource) Lost() <-chan struct{} { return ds.lost }

// Close stops the worker and shuts the link. The worker observes the stop
// flag before the channels are torn down, so no frame is emitted after
// Close returns (a frame already queued may still be drained by the
// consumer).
func (ds *DeviceSource) Close() error {
	closeIfOpen(ds.abort)
	ds.done.Wait()
	return ds.link.Close()
}

// closeIfOpen closes c unless it already is closed.
func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}

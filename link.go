package oscilloscope

// The Link owns the serial byte stream to the device: open, line-oriented
// read/write, close. Reads are short-timeout polls; whole lines are
// assembled here from however the bytes happen to arrive.

import (
	"bytes"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the scope firmware runs its UART at.
const DefaultBaudRate = 921600

// DefaultBootSettle is how long the device needs after the port opens
// before it will accept commands.
const DefaultBootSettle = 2000 * time.Millisecond

// readPollTimeout bounds a single Read so TryReadLine stays a short poll.
const readPollTimeout = 50 * time.Millisecond

// LinkErrorKind distinguishes the two ways a link can fail.
type LinkErrorKind int

// Link failure kinds.
const (
	OpenFailed LinkErrorKind = iota // the port could not be opened
	Lost                           // mid-session I/O failure; link is dead
)

// LinkError wraps a transport failure with the descriptor it occurred on.
type LinkError struct {
	Kind       LinkErrorKind
	Descriptor string
	Err        error
}

func (e *LinkError) Error() string {
	switch e.Kind {
	case OpenFailed:
		return fmt.Sprintf("cannot open link %q: %v", e.Descriptor, e.Err)
	default:
		return fmt.Sprintf("link %q lost: %v", e.Descriptor, e.Err)
	}
}

func (e *LinkError) Unwrap() error { return e.Err }

// LineLink is the byte-stream transport as the rest of the system sees it.
// Implementations must make TryReadLine a non-blocking or short-timeout
// poll, and must return a Lost LinkError from it at most once before dying.
type LineLink interface {
	WriteLine(line []byte) error
	// TryReadLine polls for one complete line. ok is false when no full
	// line is available yet; err is non-nil only for unrecoverable loss.
	TryReadLine() (line string, ok bool, err error)
	Close() error
}

// SerialLink is the production LineLink over a serial port.
type SerialLink struct {
	port       serial.Port
	descriptor string
	pending    []byte
}

// OpenSerialLink opens descriptor at the given baud rate and arms the short
// read timeout used by TryReadLine. The caller is responsible for the boot
// settle delay before issuing the first command.
func OpenSerialLink(descriptor string, baud int) (*SerialLink, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(descriptor, mode)
	if err != nil {
		return nil, &LinkError{Kind: OpenFailed, Descriptor: descriptor, Err: err}
	}
	if err := port.SetReadTimeout(readPollTimeout); err != nil {
		port.Close()
		return nil, &LinkError{Kind: OpenFailed, Descriptor: descriptor, Err: err}
	}
	return &SerialLink{port: port, descriptor: descriptor}, nil
}

// WriteLine sends one already newline-terminated line to the device.
func (l *SerialLink) WriteLine(line []byte) error {
	if _, err := l.port.Write(line); err != nil {
		return &LinkError{Kind: Lost, Descriptor: l.descriptor, Err: err}
	}
	return nil
}

// TryReadLine polls the port once and returns a complete line if one has
// been assembled. Bytes of a partial line are buffered across calls.
func (l *SerialLink) TryReadLine() (string, bool, error) {
	// A frame at 1 MS/s is a few kB of text; read in 4 kB chunks.
	if line, ok := l.takeLine(); ok {
		return line, true, nil
	}
	chunk := make([]byte, 4096)
	n, err := l.port.Read(chunk)
	if err != nil {
		return "", false, &LinkError{Kind: Lost, Descriptor: l.descriptor, Err: err}
	}
	if n > 0 {
		l.pending = append(l.pending, chunk[:n]...)
	}
	line, ok := l.takeLine()
	return line, ok, nil
}

// takeLine removes and returns the first complete line from the pending
// buffer, stripping the newline and any carriage return.
func (l *SerialLink) takeLine() (string, bool) {
	idx := bytes.IndexByte(l.pending, '\n')
	if idx < 0 {
		return "", false
	}
	line := l.pending[:idx]
	l.pending = l.pending[idx+1:]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return string(line), true
}

// Close shuts the port. Safe to call after a loss.
func (l *SerialLink) Close() error {
	return l.port.Close()
}

package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrWriteFailed   = errors.New("failed to write to serial port")
	ErrReadTimeout   = errors.New("timed out waiting for reply")
	ErrReplyOverflow = errors.New("reply exceeds maximum length")
)

// pollSlice caps a single blocking read so a long reply timeout still notices
// the deadline promptly on ports that return early.
const pollSlice = 50 * time.Millisecond

// Link reads and writes whole frames on a serial port. Bytes that arrive after
// a terminator are kept for the next read until Discard is called.
type Link struct {
	port    SerialPorter
	pending []byte
	buf     [64]byte
}

// NewLink wraps port.
func NewLink(port SerialPorter) *Link {
	return &Link{port: port}
}

// Write sends frame in full.
func (l *Link) Write(frame []byte) error {
	n, err := l.port.Write(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, n, len(frame))
	}
	return nil
}

// ReadUntil returns the bytes up to and including the next term byte. At most
// max bytes (terminator included) are accepted; a longer run returns
// ErrReplyOverflow and the partial bytes are dropped. If no terminator arrives
// within timeout, ErrReadTimeout is returned.
func (l *Link) ReadUntil(term byte, max int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if i := bytes.IndexByte(l.pending, term); i >= 0 {
			line := append([]byte(nil), l.pending[:i+1]...)
			l.pending = l.pending[i+1:]
			if len(line) > max {
				return nil, fmt.Errorf("%w: %d bytes", ErrReplyOverflow, len(line))
			}
			return line, nil
		}
		if len(l.pending) >= max {
			n := len(l.pending)
			l.pending = nil
			return nil, fmt.Errorf("%w: %d bytes without terminator", ErrReplyOverflow, n)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrReadTimeout
		}
		if tp, ok := l.port.(TimeoutSerialPorter); ok {
			if err := tp.SetReadTimeout(min(remaining, pollSlice)); err != nil {
				return nil, fmt.Errorf("failed to set read timeout: %w", err)
			}
		}

		n, err := l.port.Read(l.buf[:])
		if n > 0 {
			l.pending = append(l.pending, l.buf[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n == 0 && err != nil {
			// EOF with nothing buffered: nothing more will arrive.
			return nil, ErrReadTimeout
		}
	}
}

// Discard drops any buffered input so the next reply read belongs to the next
// request.
func (l *Link) Discard() {
	l.pending = l.pending[:0]
	if r, ok := l.port.(InputResetter); ok {
		_ = r.ResetInputBuffer()
	}
}

// Close closes the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}

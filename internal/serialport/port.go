// Package serialport owns the byte transport to the mount controller and the
// analog bridge: opening a go.bug.st/serial port with normalised options and
// reading terminator-delimited replies with a bounded length and timeout.
package serialport

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// InputResetter is implemented by ports that can drop unread input.
type InputResetter interface {
	ResetInputBuffer() error
}

// Opener opens a serial port at path. Open is the production implementation;
// tests substitute a function returning a TestableSerialPort.
type Opener func(path string, opts PortOptions) (SerialPorter, error)

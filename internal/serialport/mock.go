package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestableSerialPort implements TimeoutSerialPorter with configurable
// behaviour for testing. Written frames can be answered synchronously through
// Respond, which is how device emulators are attached.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// Respond, if set, is called with each written chunk and its result is
	// queued for reading.
	Respond func(written []byte) []byte

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// WriteCalls records the number of Write calls
	WriteCalls int

	// Resets records the number of ResetInputBuffer calls
	Resets int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// Timeouts makes an empty Read wait ReadTimeout and return (0, nil) the
	// way a real port does, instead of returning io.EOF at once.
	Timeouts bool
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read reads from the read buffer, optionally simulating errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadBuffer.Len() == 0 && t.Timeouts {
		wait := t.ReadTimeout
		t.mu.Unlock()
		time.Sleep(wait)
		t.mu.Lock()
		return 0, nil
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer and queues any emulated response.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	n, _ = t.WriteBuffer.Write(p)
	if t.Respond != nil {
		t.ReadBuffer.Write(t.Respond(append([]byte(nil), p...)))
	}
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, nil
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// ResetInputBuffer implements InputResetter.
func (t *TestableSerialPort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Resets++
	t.ReadBuffer.Reset()
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

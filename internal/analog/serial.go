package analog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/beamalign/internal/monitoring"
	"github.com/banshee-data/beamalign/internal/serialport"
)

// DefaultReadTimeout bounds one conversion round trip on the bridge.
const DefaultReadTimeout = 2 * time.Second

// maxLine bounds a reply line, digits plus sign and CRLF.
const maxLine = 16

// ErrBadReading is returned when the bridge answers with something that is
// not a decimal reading.
var ErrBadReading = errors.New("malformed analog reading")

// SerialReader talks to a microcontroller ADC bridge over a serial port.
// A request is "a<channel>,<oversample>\n"; the bridge answers with the
// averaged reading as a decimal line.
type SerialReader struct {
	link    *serialport.Link
	timeout time.Duration
}

// NewSerialReader wraps an open port. A non-positive timeout selects
// DefaultReadTimeout.
func NewSerialReader(port serialport.SerialPorter, timeout time.Duration) *SerialReader {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &SerialReader{link: serialport.NewLink(port), timeout: timeout}
}

// Read implements Reader.
func (r *SerialReader) Read(ctx context.Context, channel, oversample int) (int, error) {
	if err := validate(channel, oversample); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.link.Discard()
	if err := r.link.Write([]byte(fmt.Sprintf("a%d,%d\n", channel, oversample))); err != nil {
		return 0, fmt.Errorf("analog channel %d: %w", channel, err)
	}
	line, err := r.link.ReadUntil('\n', maxLine, r.timeout)
	if err != nil {
		return 0, fmt.Errorf("analog channel %d: %w", channel, err)
	}

	text := strings.TrimSpace(string(line))
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadReading, text)
	}
	monitoring.Debugf("analog: channel %d x%d = %d", channel, oversample, v)
	return v, nil
}

// Close releases the underlying port.
func (r *SerialReader) Close() error {
	return r.link.Close()
}

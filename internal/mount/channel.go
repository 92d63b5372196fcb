// Package mount drives the two-axis mount controller: a retrying
// request/response channel over the serial link and the motion commands built
// on it (position query, bounded move, relative turn, stop, wait for stop).
package mount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/beamalign/internal/monitoring"
	"github.com/banshee-data/beamalign/internal/protocol"
	"github.com/banshee-data/beamalign/internal/timeutil"
)

// Transport moves whole frames to and from the mount.
// *serialport.Link is the production implementation.
type Transport interface {
	Write(frame []byte) error
	ReadUntil(term byte, max int, timeout time.Duration) ([]byte, error)
	Discard()
}

// Status classifies the outcome of one exchange.
type Status int

const (
	StatusOK Status = iota
	StatusMountError
	StatusTimeout
	StatusMalformed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMountError:
		return "mount error"
	case StatusTimeout:
		return "timeout"
	case StatusMalformed:
		return "malformed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Response is the result of Send. It is produced per exchange and never
// retained by the channel.
type Response struct {
	Status Status
	// Code is set when Status is StatusMountError.
	Code protocol.ErrorCode
	// Payload is the reply body after the '=' sentinel.
	Payload string
	// Raw is the reply as read, terminator included.
	Raw string
	// Attempts is the number of exchanges made for this Send.
	Attempts int

	cause error
}

// OK reports whether the mount accepted the command.
func (r Response) OK() bool {
	return r.Status == StatusOK
}

// Err converts a failed response into a typed error: *protocol.MountError,
// *protocol.FormatError, an error wrapping ErrTransportTimeout, or the context
// error. It returns nil for a successful response.
func (r Response) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusMountError:
		var me *protocol.MountError
		if errors.As(r.cause, &me) {
			return me
		}
		return &protocol.MountError{Code: r.Code}
	case StatusTimeout:
		return fmt.Errorf("%w: %v", ErrTransportTimeout, r.cause)
	default:
		return r.cause
	}
}

func (r Response) retryable() bool {
	switch r.Status {
	case StatusTimeout, StatusMalformed:
		return true
	case StatusMountError:
		return r.Code.Retryable()
	default:
		return false
	}
}

// ChannelConfig holds the exchange timing.
type ChannelConfig struct {
	// SettleDelay is how long to wait after writing before reading the reply.
	SettleDelay time.Duration
	// RetryDelay separates retries.
	RetryDelay time.Duration
	// MaxRetries is the number of resends after the first attempt.
	MaxRetries int
	// ReadTimeout bounds the wait for a reply terminator.
	ReadTimeout time.Duration
}

// DefaultChannelConfig matches the mount firmware's response time.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		SettleDelay: 30 * time.Millisecond,
		RetryDelay:  10 * time.Millisecond,
		MaxRetries:  10,
		ReadTimeout: 200 * time.Millisecond,
	}
}

// Channel performs request/response exchanges with bounded retry. It is owned
// by a single session and is not safe for concurrent use.
type Channel struct {
	transport Transport
	cfg       ChannelConfig
	clock     timeutil.Clock
}

// NewChannel creates a Channel. A nil clock uses the real clock.
func NewChannel(t Transport, cfg ChannelConfig, clock timeutil.Clock) *Channel {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Channel{transport: t, cfg: cfg, clock: clock}
}

// Send frames body, writes it and reads one reply, retrying failed exchanges
// up to MaxRetries times. When every attempt fails the last Response is
// returned unchanged; callers must check Status.
func (c *Channel) Send(ctx context.Context, body string) Response {
	resp, attempts, err := retry(ctx, c.clock, c.cfg.MaxRetries+1, c.cfg.RetryDelay, func(attempt int) (Response, bool) {
		r := c.exchange(ctx, body)
		if attempt > 1 {
			monitoring.Debugf("mount: retry #%d of %q", attempt-1, body)
		}
		return r, !r.retryable()
	})
	if err != nil {
		resp = Response{Status: StatusCancelled, cause: err}
	}
	resp.Attempts = attempts
	if !resp.OK() {
		monitoring.Debugf("mount: %q failed after %d attempt(s): %v", body, attempts, resp.Err())
	}
	return resp
}

func (c *Channel) exchange(ctx context.Context, body string) Response {
	c.transport.Discard()
	if err := c.transport.Write(protocol.Frame(body)); err != nil {
		return Response{Status: StatusTimeout, cause: err}
	}
	if err := timeutil.SleepContext(ctx, c.clock, c.cfg.SettleDelay); err != nil {
		return Response{Status: StatusCancelled, cause: err}
	}

	raw, err := c.transport.ReadUntil(protocol.Terminator, protocol.MaxBodyLen+1, c.cfg.ReadTimeout)
	monitoring.Debugf("mount: sent %q, received %q", body, raw)
	if err != nil {
		return Response{Status: StatusTimeout, Raw: string(raw), cause: err}
	}

	reply, err := protocol.DecodeResponse(string(raw))
	if err != nil {
		var me *protocol.MountError
		if errors.As(err, &me) {
			return Response{Status: StatusMountError, Code: me.Code, Raw: string(raw), cause: me}
		}
		return Response{Status: StatusMalformed, Raw: string(raw), cause: err}
	}
	return Response{Status: StatusOK, Payload: reply.Payload, Raw: string(raw)}
}

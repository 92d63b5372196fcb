// Package analog samples the received-power channels of the optical
// front end.
package analog

import (
	"context"
	"errors"
	"fmt"
)

// Signal and auxiliary channels sampled at every scan point.
const (
	SignalChannel = 1
	AuxChannel    = 2
)

// DefaultOversample is the number of conversions averaged per reading.
const DefaultOversample = 10

// ErrInvalidRequest is returned for a channel or oversample count the
// converter cannot serve.
var ErrInvalidRequest = errors.New("invalid analog request")

// Reader returns one reading of channel, averaged over oversample
// conversions.
type Reader interface {
	Read(ctx context.Context, channel, oversample int) (int, error)
}

// Func adapts an ordinary function to Reader.
type Func func(ctx context.Context, channel, oversample int) (int, error)

// Read calls f.
func (f Func) Read(ctx context.Context, channel, oversample int) (int, error) {
	return f(ctx, channel, oversample)
}

func validate(channel, oversample int) error {
	if channel < 0 || channel > 9 {
		return fmt.Errorf("%w: channel %d", ErrInvalidRequest, channel)
	}
	if oversample < 1 {
		return fmt.Errorf("%w: oversample %d", ErrInvalidRequest, oversample)
	}
	return nil
}

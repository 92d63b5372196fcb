package monitor

import (
	"context"
	"sync"

	"github.com/banshee-data/beamalign/internal/mount"
)

// Mover moves one axis to a six-hex-digit target after checking the
// axis travel limits. *mount.Controller implements it.
type Mover interface {
	MoveToHex(ctx context.Context, axis mount.Axis, target string, mountFormatted bool) error
}

// SharedSender serialises exchanges from the scan and the debug console
// over one mount channel.
type SharedSender struct {
	mu    sync.Mutex
	inner mount.Sender
}

// NewSharedSender wraps s.
func NewSharedSender(s mount.Sender) *SharedSender {
	return &SharedSender{inner: s}
}

// Send implements mount.Sender.
func (s *SharedSender) Send(ctx context.Context, body string) mount.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Send(ctx, body)
}

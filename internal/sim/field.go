package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/beamalign/internal/analog"
	"github.com/banshee-data/beamalign/internal/mount"
)

// Field is a Gaussian received-power spot centred on a mount position. It
// implements analog.Reader by sampling at the emulated mount's current
// pointing.
type Field struct {
	mount  *Mount
	noise  *distuv.Normal
	Center [2]mount.Position
	// Peak is the signal at the centre.
	Peak float64
	// Width is the spot's standard deviation in encoder steps.
	Width float64
	// Background is added everywhere.
	Background float64
	// Aux is returned for the auxiliary channel.
	Aux int
}

// NewField creates a noiseless field around center. noiseSigma > 0 adds
// Gaussian noise per conversion, reduced by oversampling.
func NewField(m *Mount, center [2]mount.Position, peak, width, noiseSigma float64, seed uint64) *Field {
	f := &Field{mount: m, Center: center, Peak: peak, Width: width}
	if noiseSigma > 0 {
		f.noise = &distuv.Normal{Mu: 0, Sigma: noiseSigma, Src: rand.NewPCG(seed, ^seed)}
	}
	return f
}

var _ analog.Reader = (*Field)(nil)

// Read implements analog.Reader.
func (f *Field) Read(ctx context.Context, channel, oversample int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if oversample < 1 {
		return 0, fmt.Errorf("%w: oversample %d", analog.ErrInvalidRequest, oversample)
	}
	switch channel {
	case analog.SignalChannel:
	case analog.AuxChannel:
		return f.Aux, nil
	default:
		return 0, fmt.Errorf("%w: channel %d", analog.ErrInvalidRequest, channel)
	}

	v := f.Level(f.mount.Position(mount.Axis1), f.mount.Position(mount.Axis2))
	if f.noise != nil {
		var sum float64
		for i := 0; i < oversample; i++ {
			sum += f.noise.Rand()
		}
		v += sum / float64(oversample)
	}
	if v < 0 {
		v = 0
	}
	return int(math.Round(v)), nil
}

// Level is the noiseless signal at a pointing.
func (f *Field) Level(axis1, axis2 mount.Position) float64 {
	if f.Width <= 0 {
		return f.Background
	}
	d1 := circularDistance(axis1, f.Center[0], f.mount.stepsPerRev)
	d2 := circularDistance(axis2, f.Center[1], f.mount.stepsPerRev)
	return f.Background + f.Peak*math.Exp(-(d1*d1+d2*d2)/(2*f.Width*f.Width))
}

func circularDistance(a, b mount.Position, rev uint32) float64 {
	d := math.Abs(float64(a) - float64(b))
	return math.Min(d, float64(rev)-d)
}

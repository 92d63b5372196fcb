// Package scan searches a bounded angular field around the current pointing
// direction for the direction of maximum received power.
package scan

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/banshee-data/beamalign/internal/beam"
)

// ErrInvalidParameters is returned for a range, field or beam model that
// cannot produce a scan. No motion is commanded.
var ErrInvalidParameters = errors.New("invalid scan parameters")

// Session holds the derived geometry of one alignment attempt.
type Session struct {
	Range           float64 // link distance, m
	FieldDegrees    float64
	FieldRadians    float64
	ResolutionM     float64 // beam radius at range, m
	ResolutionRad   float64
	ResolutionSteps int // encoder steps between samples, at least 1
	MaxLegSteps     int
	TotalSteps      int
	CompletedSteps  int
	StartTime       time.Time
}

// Key identifies the session's record, e.g. "1000-2.000".
func (s Session) Key() string {
	return strconv.FormatFloat(s.Range, 'f', -1, 64) + "-" + strconv.FormatFloat(s.FieldDegrees, 'f', 3, 64)
}

// TotalSteps is the number of samples in a spiral whose longest leg has n
// samples: 1+1+2+2+...+n+n.
func TotalSteps(n int) int {
	return n*n + n
}

// Plan derives the scan geometry for a link of rangeM metres and a field of
// regard of fieldDeg degrees.
func Plan(rangeM, fieldDeg float64, model beam.Model, stepsPerRev uint32) (Session, error) {
	if !(rangeM > 0) || math.IsInf(rangeM, 0) {
		return Session{}, fmt.Errorf("%w: range %v", ErrInvalidParameters, rangeM)
	}
	if !(fieldDeg > 0) || math.IsInf(fieldDeg, 0) {
		return Session{}, fmt.Errorf("%w: field %v", ErrInvalidParameters, fieldDeg)
	}
	if stepsPerRev == 0 {
		return Session{}, fmt.Errorf("%w: steps per revolution is zero", ErrInvalidParameters)
	}
	if !(model.Waist0 > 0) || !(model.Wavelength > 0) || !(model.ScaleFactor > 0) {
		return Session{}, fmt.Errorf("%w: beam model %+v", ErrInvalidParameters, model)
	}

	s := Session{Range: rangeM, FieldDegrees: fieldDeg}
	s.ResolutionM = model.Resolution(rangeM)
	s.ResolutionRad = s.ResolutionM / rangeM
	s.ResolutionSteps = int(s.ResolutionRad / (2 * math.Pi / float64(stepsPerRev)))
	if s.ResolutionSteps < 1 {
		s.ResolutionSteps = 1
	}
	s.FieldRadians = 2 * math.Pi * fieldDeg / 360
	s.MaxLegSteps = int(s.FieldRadians / s.ResolutionRad)
	s.TotalSteps = TotalSteps(s.MaxLegSteps)
	return s, nil
}

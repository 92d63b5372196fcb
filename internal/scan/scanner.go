package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/beamalign/internal/analog"
	"github.com/banshee-data/beamalign/internal/beam"
	"github.com/banshee-data/beamalign/internal/monitoring"
	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/timeutil"
)

// DefaultThreshold is the signal level that ends a scan as found.
const DefaultThreshold = 10000

// Mount is the motion surface the scanner drives. *mount.Controller
// implements it.
type Mount interface {
	Position(ctx context.Context, axis mount.Axis) (mount.Position, error)
	MoveTo(ctx context.Context, axis mount.Axis, target mount.Position) error
	WaitStopped(ctx context.Context, axis mount.Axis) error
	StepsPerRevolution() uint32
}

// Config holds the scan tuning.
type Config struct {
	Threshold  int
	Oversample int
	Beam       beam.Model
}

// DefaultConfig returns the tuning used for the reference link.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		Oversample: analog.DefaultOversample,
		Beam:       beam.DefaultModel(),
	}
}

// Scanner runs spiral alignment scans. A Scanner owns the mount and reader
// for the duration of Run and must not be used concurrently.
type Scanner struct {
	mount    Mount
	reader   analog.Reader
	recorder Recorder
	clock    timeutil.Clock
	cfg      Config

	// OnProgress, if set, is called after every leg.
	OnProgress func(Progress)
}

// NewScanner creates a scanner. A nil recorder discards points and a nil
// clock uses the real clock.
func NewScanner(m Mount, r analog.Reader, rec Recorder, cfg Config, clock timeutil.Clock) *Scanner {
	if rec == nil {
		rec = nopRecorder{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.Oversample < 1 {
		cfg.Oversample = analog.DefaultOversample
	}
	return &Scanner{mount: m, reader: r, recorder: rec, clock: clock, cfg: cfg}
}

// run is the state of one Run call.
type run struct {
	session Session
	best    ScanPoint
	samples int
}

// Run plans a scan for rangeM metres and fieldDeg degrees and executes it
// as an outward square spiral centred on the current pointing. Legs
// alternate between axis 1 and axis 2; each return to axis 1 lengthens the
// leg by one step and reverses the direction. The scan ends as Found when a
// sample exceeds the threshold, or as Covered once the leg length exceeds
// the field, in which case both axes are re-pointed to the best sample.
//
// Invalid parameters fail before any motion. A cancelled context ends the
// scan as Cancelled with the context error.
func (s *Scanner) Run(ctx context.Context, rangeM, fieldDeg float64) (Result, error) {
	session, err := Plan(rangeM, fieldDeg, s.cfg.Beam, s.mount.StepsPerRevolution())
	if err != nil {
		return Result{Outcome: Failed}, err
	}
	session.StartTime = s.clock.Now()
	monitoring.Debugf("scan: %s resolution %.6f rad (%d steps), max leg %d, total %d",
		session.Key(), session.ResolutionRad, session.ResolutionSteps, session.MaxLegSteps, session.TotalSteps)

	if err := s.recorder.Begin(session); err != nil {
		return Result{Outcome: Failed, Session: session}, fmt.Errorf("begin record %s: %w", session.Key(), err)
	}

	r := &run{session: session}
	outcome, err := s.execute(ctx, r)
	if err != nil {
		outcome = Failed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = Cancelled
		}
	}

	res := Result{
		Outcome: outcome,
		Session: r.session,
		Best:    r.best,
		Samples: r.samples,
		Elapsed: s.clock.Since(session.StartTime),
	}
	if ferr := s.recorder.Finish(res); ferr != nil && err == nil {
		err = fmt.Errorf("finish record %s: %w", session.Key(), ferr)
	}
	monitoring.Logf("Scan %s %s after %d samples, best %s, %s signal %d",
		session.Key(), outcome, r.samples, r.best.Axis1, r.best.Axis2, r.best.Signal)
	return res, err
}

func (s *Scanner) execute(ctx context.Context, r *run) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Cancelled, err
	}

	seed, err := s.sample(ctx)
	if err != nil {
		return Failed, fmt.Errorf("seed sample: %w", err)
	}
	seed.Seed = true
	if err := s.recorder.Record(seed); err != nil {
		return Failed, fmt.Errorf("record seed: %w", err)
	}
	r.best = seed
	if seed.Signal > s.cfg.Threshold {
		monitoring.Logf("Signal %d above threshold at start position", seed.Signal)
		return Found, nil
	}

	axis, dir, length := mount.Axis1, 1, 1
	for length <= r.session.MaxLegSteps {
		taken, found, err := s.leg(ctx, r, axis, dir, length)
		r.session.CompletedSteps += taken
		if err != nil {
			return Failed, err
		}
		s.report(r.session)
		if found {
			return Found, nil
		}

		if axis == mount.Axis2 {
			axis = mount.Axis1
			length++
			dir = -dir
		} else {
			axis = mount.Axis2
		}
	}

	monitoring.Logf("Going to: %s, %s", r.best.Axis1, r.best.Axis2)
	for _, a := range []mount.Axis{mount.Axis1, mount.Axis2} {
		target := r.best.Axis1
		if a == mount.Axis2 {
			target = r.best.Axis2
		}
		if err := s.mount.MoveTo(ctx, a, target); err != nil {
			return Failed, fmt.Errorf("re-point axis %d: %w", a, err)
		}
		if err := s.mount.WaitStopped(ctx, a); err != nil {
			return Failed, fmt.Errorf("re-point axis %d: %w", a, err)
		}
	}
	return Covered, nil
}

// leg takes length samples along axis, stepping by the session resolution
// in dir. It reports the number of samples taken and whether one exceeded
// the threshold.
func (s *Scanner) leg(ctx context.Context, r *run, axis mount.Axis, dir, length int) (int, bool, error) {
	monitoring.Debugf("scan: leg axis %d dir %+d length %d", axis, dir, length)
	for i := 0; i < length; i++ {
		if err := ctx.Err(); err != nil {
			return i, false, err
		}

		current, err := s.mount.Position(ctx, axis)
		if err != nil {
			return i, false, err
		}
		next := offset(current, int64(dir*r.session.ResolutionSteps), s.mount.StepsPerRevolution())
		monitoring.Debugf("scan: axis %d %s -> %s", axis, current, next)
		if err := s.mount.MoveTo(ctx, axis, next); err != nil {
			return i, false, err
		}
		if err := s.mount.WaitStopped(ctx, axis); err != nil {
			return i, false, err
		}

		p, err := s.sample(ctx)
		if err != nil {
			return i, false, err
		}
		p.DirX, p.DirY = dir, dir
		if axis == mount.Axis2 {
			p.DirX = -dir
		}
		if err := s.recorder.Record(p); err != nil {
			return i, false, fmt.Errorf("record point: %w", err)
		}
		r.samples++

		if p.Signal > r.best.Signal {
			r.best = p
			monitoring.Debugf("scan: new maximum %d at %s, %s", p.Signal, p.Axis1, p.Axis2)
		}
		if p.Signal > s.cfg.Threshold {
			monitoring.Logf("Signal %d above threshold %d at %s, %s", p.Signal, s.cfg.Threshold, p.Axis1, p.Axis2)
			return i + 1, true, nil
		}
	}
	return length, false, nil
}

// sample reads both analog channels, then both axis positions.
func (s *Scanner) sample(ctx context.Context) (ScanPoint, error) {
	var p ScanPoint
	var err error
	if p.Signal, err = s.reader.Read(ctx, analog.SignalChannel, s.cfg.Oversample); err != nil {
		return p, fmt.Errorf("read signal: %w", err)
	}
	if p.Aux, err = s.reader.Read(ctx, analog.AuxChannel, s.cfg.Oversample); err != nil {
		return p, fmt.Errorf("read aux: %w", err)
	}
	if p.Axis1, err = s.mount.Position(ctx, mount.Axis1); err != nil {
		return p, err
	}
	if p.Axis2, err = s.mount.Position(ctx, mount.Axis2); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Scanner) report(session Session) {
	elapsed := s.clock.Since(session.StartTime)
	p := Progress{Completed: session.CompletedSteps, Total: session.TotalSteps, Elapsed: elapsed}
	if f := p.Fraction(); f > 0 {
		p.Remaining = time.Duration(float64(elapsed)/f) - elapsed
		if p.Remaining < 0 {
			p.Remaining = 0
		}
	}
	monitoring.Logf("Progress: %.1f%%, Time remaining: %.0f minutes", 100*p.Fraction(), p.Remaining.Minutes())
	if s.OnProgress != nil {
		s.OnProgress(p)
	}
}

func offset(p mount.Position, steps int64, stepsPerRev uint32) mount.Position {
	rev := int64(stepsPerRev)
	v := (int64(p) + steps) % rev
	if v < 0 {
		v += rev
	}
	return mount.Position(v)
}

package mount

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/banshee-data/beamalign/internal/monitoring"
	"github.com/banshee-data/beamalign/internal/protocol"
	"github.com/banshee-data/beamalign/internal/timeutil"
)

// DefaultStepsPerRevolution is the encoder count of one full axis turn.
const DefaultStepsPerRevolution = 0xA9EC00

// Axis selects a mount channel. AxisBoth is only valid for Stop.
type Axis int

const (
	Axis1    Axis = 1
	Axis2    Axis = 2
	AxisBoth Axis = 3
)

func (a Axis) digit() byte { return byte('0' + a) }

// Position is an absolute encoder count in [0, stepsPerRevolution).
type Position uint32

func (p Position) String() string { return protocol.FormatValue(uint32(p)) }

// Limits is an inclusive travel range for one axis.
type Limits struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Contains reports whether v lies within the limits.
func (l Limits) Contains(v int64) bool {
	return v >= l.Min && v <= l.Max
}

// Sender performs one request/response exchange. *Channel implements it.
type Sender interface {
	Send(ctx context.Context, body string) Response
}

// ControllerConfig holds the mount geometry and motion timing.
type ControllerConfig struct {
	StepsPerRevolution uint32
	Axis1Limits        Limits
	Axis2Limits        Limits
	// LegacyLimitMapping checks axis 1 targets against Axis2Limits and axis 2
	// targets against Axis1Limits, matching older mount firmware setups.
	LegacyLimitMapping bool
	// PollInterval separates status polls while waiting for an axis to stop.
	PollInterval time.Duration
	// MotionTimeout bounds WaitStopped.
	MotionTimeout time.Duration
}

// DefaultControllerConfig allows the full encoder range on both axes.
func DefaultControllerConfig() ControllerConfig {
	full := Limits{Min: 0, Max: DefaultStepsPerRevolution - 1}
	return ControllerConfig{
		StepsPerRevolution: DefaultStepsPerRevolution,
		Axis1Limits:        full,
		Axis2Limits:        full,
		PollInterval:       20 * time.Millisecond,
		MotionTimeout:      30 * time.Second,
	}
}

// Controller issues motion commands. It is an explicit session value: the
// channel, limits and geometry are passed in, never global.
type Controller struct {
	sender Sender
	cfg    ControllerConfig
	clock  timeutil.Clock
}

// NewController creates a Controller. A nil clock uses the real clock.
func NewController(s Sender, cfg ControllerConfig, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.StepsPerRevolution == 0 {
		cfg.StepsPerRevolution = DefaultStepsPerRevolution
	}
	if cfg.LegacyLimitMapping {
		monitoring.Logf("mount: legacy limit mapping enabled, axis 1 is checked against axis 2 limits and vice versa")
	}
	return &Controller{sender: s, cfg: cfg, clock: clock}
}

// StepsPerRevolution returns the encoder count of one axis turn.
func (c *Controller) StepsPerRevolution() uint32 {
	return c.cfg.StepsPerRevolution
}

// LimitsFor returns the travel limits a move on axis is checked against.
func (c *Controller) LimitsFor(axis Axis) (Limits, error) {
	if axis != Axis1 && axis != Axis2 {
		return Limits{}, fmt.Errorf("%w: %d", ErrInvalidChannel, axis)
	}
	if (axis == Axis1) != c.cfg.LegacyLimitMapping {
		return c.cfg.Axis1Limits, nil
	}
	return c.cfg.Axis2Limits, nil
}

// Position returns the current encoder position of axis.
func (c *Controller) Position(ctx context.Context, axis Axis) (Position, error) {
	if axis != Axis1 && axis != Axis2 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, axis)
	}
	resp := c.sender.Send(ctx, "j"+string(axis.digit()))
	if !resp.OK() {
		return 0, fmt.Errorf("position enquiry on axis %d failed: %w", axis, resp.Err())
	}
	v, err := protocol.Reply{Payload: resp.Payload}.Value()
	if err != nil {
		return 0, fmt.Errorf("position enquiry on axis %d: %w", axis, err)
	}
	monitoring.Debugf("mount: axis %d at %06X", axis, v)
	return Position(v), nil
}

// Moving reports whether axis is running.
func (c *Controller) Moving(ctx context.Context, axis Axis) (bool, error) {
	if axis != Axis1 && axis != Axis2 {
		return false, fmt.Errorf("%w: %d", ErrInvalidChannel, axis)
	}
	resp := c.sender.Send(ctx, "f"+string(axis.digit()))
	if !resp.OK() {
		return false, fmt.Errorf("status enquiry on axis %d failed: %w", axis, resp.Err())
	}
	moving, err := protocol.Reply{Payload: resp.Payload}.Moving()
	if err != nil {
		return false, fmt.Errorf("status enquiry on axis %d: %w", axis, err)
	}
	return moving, nil
}

// Stop halts axis, or both axes for AxisBoth.
func (c *Controller) Stop(ctx context.Context, axis Axis) error {
	if axis != Axis1 && axis != Axis2 && axis != AxisBoth {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, axis)
	}
	if resp := c.sender.Send(ctx, "K"+string(axis.digit())); !resp.OK() {
		return fmt.Errorf("stop axis %d: %w", axis, resp.Err())
	}
	return nil
}

// MoveTo commands axis to target. The target is checked against the axis
// limits first; an out of range target fails with ErrOutOfBounds and nothing
// is sent. The axis is stopped, the target set, and motion armed and started.
// Every one of those commands must succeed.
func (c *Controller) MoveTo(ctx context.Context, axis Axis, target Position) error {
	limits, err := c.LimitsFor(axis)
	if err != nil {
		return err
	}
	if uint32(target) >= c.cfg.StepsPerRevolution || !limits.Contains(int64(target)) {
		return fmt.Errorf("%w: axis %d target %s, limits [%06X, %06X]", ErrOutOfBounds, axis, target, limits.Min, limits.Max)
	}

	if err := c.Stop(ctx, axis); err != nil {
		return fmt.Errorf("move axis %d: %w", axis, err)
	}

	setTarget, err := protocol.EncodeCommand('S', axis.digit(), target.String())
	if err != nil {
		return err
	}
	d := string(axis.digit())
	for _, body := range []string{setTarget, "G" + d + "01", "J" + d} {
		if resp := c.sender.Send(ctx, body); !resp.OK() {
			return fmt.Errorf("move axis %d: %q: %w", axis, body, resp.Err())
		}
	}
	monitoring.Debugf("mount: axis %d moving to %s", axis, target)
	return nil
}

// MoveToHex is MoveTo with the target given as six hex digits, either in
// human order or, when mountFormatted is set, already in mount order.
func (c *Controller) MoveToHex(ctx context.Context, axis Axis, target string, mountFormatted bool) error {
	if mountFormatted {
		target = protocol.SwapPairs(target)
	}
	v, err := strconv.ParseUint(target, 16, 32)
	if err != nil || len(target) > protocol.ValueDigits {
		return &protocol.FormatError{Input: target, Reason: "target is not six hex digits"}
	}
	return c.MoveTo(ctx, axis, Position(v))
}

// Turn moves axis by degrees relative to its position when Turn reads it.
// The target wraps modulo one revolution.
func (c *Controller) Turn(ctx context.Context, axis Axis, degrees float64) error {
	current, err := c.Position(ctx, axis)
	if err != nil {
		return err
	}
	target := c.Offset(current, int64(math.Round(degrees*float64(c.cfg.StepsPerRevolution)/360)))
	monitoring.Debugf("mount: turn axis %d by %.4f deg, %s -> %s", axis, degrees, current, target)
	return c.MoveTo(ctx, axis, target)
}

// Offset adds steps to p modulo one revolution.
func (c *Controller) Offset(p Position, steps int64) Position {
	rev := int64(c.cfg.StepsPerRevolution)
	v := (int64(p) + steps) % rev
	if v < 0 {
		v += rev
	}
	return Position(v)
}

// WaitStopped polls axis until it reports stopped. It fails with
// ErrMotionTimeout if the axis is still moving after MotionTimeout.
func (c *Controller) WaitStopped(ctx context.Context, axis Axis) error {
	start := c.clock.Now()
	for {
		moving, err := c.Moving(ctx, axis)
		if err != nil {
			return err
		}
		if !moving {
			return nil
		}
		if c.clock.Since(start) >= c.cfg.MotionTimeout {
			return fmt.Errorf("%w: axis %d after %v", ErrMotionTimeout, axis, c.cfg.MotionTimeout)
		}
		if err := timeutil.SleepContext(ctx, c.clock, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beamalign/internal/analog"
	"github.com/banshee-data/beamalign/internal/beam"
	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/scan"
	"github.com/banshee-data/beamalign/internal/serialport"
	"github.com/banshee-data/beamalign/internal/timeutil"
	"github.com/banshee-data/beamalign/internal/units"
)

func newRig(t *testing.T, m *Mount, motionTimeout time.Duration) (*mount.Controller, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ch := mount.NewChannel(serialport.NewLink(m.Port()), mount.DefaultChannelConfig(), clock)
	cfg := mount.DefaultControllerConfig()
	cfg.MotionTimeout = motionTimeout
	return mount.NewController(ch, cfg, clock), clock
}

func TestMount_Commands(t *testing.T) {
	m := NewMount(0x123456, 0x000010, 1)
	m.MovePolls = 0

	tests := []struct {
		frame string
		want  string
	}{
		{":j1\r", "=563412\r"},
		{":j2\r", "=100000\r"},
		{":f1\r", "=100\r"},
		{":J1\r", "!4\r"},
		{":S1010203\r", "=\r"},
		{":G101\r", "=\r"},
		{":J1\r", "=\r"},
		{":j1\r", "=010203\r"},
		{":K3\r", "=\r"},
		{":S3000100\r", "!3\r"},
		{":SFFFFFF\r", "!3\r"},
		{":S1FFFFFF\r", "!3\r"},
		{":x1\r", "!0\r"},
		{"j1", "!1\r"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(m.Respond([]byte(tt.frame))), "frame %q", tt.frame)
	}
	assert.Equal(t, mount.Position(0x030201), m.Position(mount.Axis1))
	assert.Equal(t, "j1", m.Commands()[0])
}

func TestMount_MoveTakesPolls(t *testing.T) {
	m := NewMount(0, 0, 1)
	ctl, _ := newRig(t, m, time.Second)
	ctx := context.Background()

	require.NoError(t, ctl.MoveTo(ctx, mount.Axis2, 0x000500))
	moving, err := ctl.Moving(ctx, mount.Axis2)
	require.NoError(t, err)
	assert.True(t, moving)
	require.NoError(t, ctl.WaitStopped(ctx, mount.Axis2))

	pos, err := ctl.Position(ctx, mount.Axis2)
	require.NoError(t, err)
	assert.Equal(t, mount.Position(0x000500), pos)
	assert.Equal(t, mount.Position(0), m.Position(mount.Axis1))
}

func TestMount_StuckAxisTimesOut(t *testing.T) {
	m := NewMount(0, 0, 1)
	m.Stuck = true
	ctl, _ := newRig(t, m, time.Second)

	require.NoError(t, ctl.MoveTo(context.Background(), mount.Axis1, 0x10))
	err := ctl.WaitStopped(context.Background(), mount.Axis1)
	assert.ErrorIs(t, err, mount.ErrMotionTimeout)
}

func TestField_Level(t *testing.T) {
	m := NewMount(100, 200, 1)
	f := NewField(m, [2]mount.Position{100, 200}, 20000, 30, 0, 1)
	f.Aux = 55
	ctx := context.Background()

	v, err := f.Read(ctx, analog.SignalChannel, 10)
	require.NoError(t, err)
	assert.Equal(t, 20000, v)

	aux, err := f.Read(ctx, analog.AuxChannel, 10)
	require.NoError(t, err)
	assert.Equal(t, 55, aux)

	_, err = f.Read(ctx, 5, 10)
	assert.ErrorIs(t, err, analog.ErrInvalidRequest)

	// Distance wraps around the encoder origin.
	wrap := NewField(m, [2]mount.Position{0, 0}, 1000, 10, 0, 1)
	assert.InDelta(t, wrap.Level(5, 0), wrap.Level(mount.DefaultStepsPerRevolution-5, 0), 1e-9)
}

func TestField_NoiseAveragesOut(t *testing.T) {
	m := NewMount(100, 200, 1)
	f := NewField(m, [2]mount.Position{100, 200}, 5000, 30, 200, 7)

	var sum float64
	const n = 400
	for i := 0; i < n; i++ {
		v, err := f.Read(context.Background(), analog.SignalChannel, 16)
		require.NoError(t, err)
		sum += float64(v)
	}
	assert.InDelta(t, 5000, sum/n, 25)
}

func TestScanOverEmulator_Found(t *testing.T) {
	m := NewMount(1000, 2000, 42)
	m.ErrorRate = 0.2
	ctl, clock := newRig(t, m, 5*time.Second)
	f := NewField(m, [2]mount.Position{954, 1954}, 20000, 30, 0, 1)

	s := scan.NewScanner(ctl, f, nil, scan.DefaultConfig(), clock)
	res, err := s.Run(context.Background(), 1000, 2)
	require.NoError(t, err)

	assert.Equal(t, scan.Found, res.Outcome)
	assert.Equal(t, 6, res.Samples)
	assert.Equal(t, mount.Position(977), res.Best.Axis1)
	assert.Equal(t, mount.Position(1977), res.Best.Axis2)
	assert.Equal(t, mount.Position(977), m.Position(mount.Axis1))
	assert.Equal(t, mount.Position(1977), m.Position(mount.Axis2))
}

func TestScanOverEmulator_CoveredRepoints(t *testing.T) {
	m := NewMount(1000, 2000, 3)
	ctl, clock := newRig(t, m, 5*time.Second)
	f := NewField(m, [2]mount.Position{1046, 1977}, 5000, 30, 0, 1)

	plan, err := scan.Plan(1000, 2, beam.DefaultModel(), mount.DefaultStepsPerRevolution)
	require.NoError(t, err)
	field := units.RadiansToDegrees(3.5 * plan.ResolutionRad)

	s := scan.NewScanner(ctl, f, nil, scan.DefaultConfig(), clock)
	res, err := s.Run(context.Background(), 1000, field)
	require.NoError(t, err)

	assert.Equal(t, scan.Covered, res.Outcome)
	assert.Equal(t, 12, res.Samples)
	assert.Equal(t, 5000, res.Best.Signal)
	assert.Equal(t, mount.Position(1046), m.Position(mount.Axis1))
	assert.Equal(t, mount.Position(1977), m.Position(mount.Axis2))
}

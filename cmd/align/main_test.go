package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beamalign/internal/config"
	"github.com/banshee-data/beamalign/internal/db"
	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/timeutil"
	"github.com/banshee-data/beamalign/internal/units"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "", *configPath)
	assert.Equal(t, 0.0, *rangeM)
	assert.Equal(t, 0.0, *fieldDeg)
	assert.Equal(t, -1, *threshold)
	assert.False(t, *devMode)
	assert.Equal(t, "scans", *outDir)
	assert.Equal(t, "", *listen)
	assert.Equal(t, units.Degrees, *angleUnits)
	assert.Equal(t, 0, *turnAxis)
	assert.Equal(t, 0, *gotoAxis)
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name          string
		rangeM, field float64
		threshold     int
		wantRange     float64
		wantField     float64
		wantThreshold int
	}{
		{"unset keeps config", 0, 0, -1, 1000, 2, 10000},
		{"range only", 250, 0, -1, 250, 2, 10000},
		{"all set", 50, 0.5, 0, 50, 0.5, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.MustLoadDefaultConfig()
			applyOverrides(cfg, tc.rangeM, tc.field, tc.threshold)
			assert.Equal(t, tc.wantRange, cfg.GetRange())
			assert.Equal(t, tc.wantField, cfg.GetField())
			assert.Equal(t, tc.wantThreshold, cfg.GetThreshold())
		})
	}
}

func TestParseAxis(t *testing.T) {
	a, err := parseAxis(2)
	require.NoError(t, err)
	assert.Equal(t, mount.Axis2, a)

	_, err = parseAxis(3)
	assert.ErrorIs(t, err, mount.ErrInvalidChannel)
}

// fastConfig removes the serial settle and poll delays so dev runs take
// milliseconds.
func fastConfig(t *testing.T) *config.AlignConfig {
	t.Helper()
	cfg := config.MustLoadDefaultConfig()
	zero, poll := "0s", "1ms"
	cfg.SettleDelay = &zero
	cfg.RetryDelay = &zero
	cfg.PollInterval = &poll
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRun_DevScan(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		Dev:        true,
		OutDir:     filepath.Join(dir, "scans"),
		DBPath:     filepath.Join(dir, "scans.db"),
		Plot:       true,
		AngleUnits: units.Degrees,
	}

	require.NoError(t, run(context.Background(), fastConfig(t), opts, timeutil.RealClock{}))

	_, err := os.Stat(filepath.Join(opts.OutDir, "1000-2.000.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(opts.OutDir, "1000-2.000.png"))
	assert.NoError(t, err)

	store, err := db.Open(opts.DBPath)
	require.NoError(t, err)
	defer store.Close()
	sessions, err := store.Sessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "found", sessions[0].Outcome)
	assert.Greater(t, sessions[0].Samples, 1)
}

func TestRun_DevTurnAndGoto(t *testing.T) {
	cfg := fastConfig(t)

	err := run(context.Background(), cfg, options{Dev: true, TurnAxis: 1, TurnDeg: 1.5, AngleUnits: units.Steps}, timeutil.RealClock{})
	require.NoError(t, err)

	err = run(context.Background(), cfg, options{Dev: true, GotoAxis: 2, GotoPos: "123456", AngleUnits: units.Radians}, timeutil.RealClock{})
	require.NoError(t, err)
}

func TestRun_Errors(t *testing.T) {
	cfg := fastConfig(t)

	err := run(context.Background(), cfg, options{Dev: true, AngleUnits: "furlongs"}, timeutil.RealClock{})
	assert.ErrorContains(t, err, "invalid units")

	err = run(context.Background(), cfg, options{Dev: true, GotoAxis: 3, GotoPos: "000000", AngleUnits: units.Degrees}, timeutil.RealClock{})
	assert.ErrorIs(t, err, mount.ErrInvalidChannel)

	err = run(context.Background(), cfg, options{Dev: true, GotoAxis: 1, GotoPos: "FFFFFF", AngleUnits: units.Degrees}, timeutil.RealClock{})
	assert.ErrorIs(t, err, mount.ErrOutOfBounds)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = run(ctx, cfg, options{Dev: true, OutDir: t.TempDir(), AngleUnits: units.Degrees}, timeutil.RealClock{})
	assert.ErrorIs(t, err, context.Canceled)
}

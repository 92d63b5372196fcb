// Package config loads the alignment tool's JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/beamalign/internal/analog"
	"github.com/banshee-data/beamalign/internal/beam"
	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/scan"
	"github.com/banshee-data/beamalign/internal/serialport"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/align.defaults.json"

// AlignConfig is the root configuration. Every field is optional; the Get*
// methods fall back to built-in defaults for anything unset, so partial
// files are safe.
type AlignConfig struct {
	// Scan
	Range      *float64 `json:"range,omitempty"` // link distance, m
	Field      *float64 `json:"field,omitempty"` // field of regard, degrees
	Threshold  *int     `json:"threshold,omitempty"`
	Oversample *int     `json:"oversample,omitempty"`

	// Mount geometry and travel limits, in encoder steps
	StepsPerRevolution *uint32 `json:"steps_per_revolution,omitempty"`
	Axis1Min           *int64  `json:"axis1_min,omitempty"`
	Axis1Max           *int64  `json:"axis1_max,omitempty"`
	Axis2Min           *int64  `json:"axis2_min,omitempty"`
	Axis2Max           *int64  `json:"axis2_max,omitempty"`
	LegacyLimitMapping *bool   `json:"legacy_limit_mapping,omitempty"`

	// Beam
	BeamWaist0      *float64 `json:"beam_waist0,omitempty"`     // m
	BeamWavelength  *float64 `json:"beam_wavelength,omitempty"` // m
	BeamScaleFactor *float64 `json:"beam_scale_factor,omitempty"`

	// Command channel timing, duration strings like "30ms"
	SettleDelay   *string `json:"settle_delay,omitempty"`
	RetryDelay    *string `json:"retry_delay,omitempty"`
	MaxRetries    *int    `json:"max_retries,omitempty"`
	ReadTimeout   *string `json:"read_timeout,omitempty"`
	PollInterval  *string `json:"poll_interval,omitempty"`
	MotionTimeout *string `json:"motion_timeout,omitempty"`

	// Serial links
	Serial         *serialport.PortOptions `json:"serial,omitempty"`
	ADCSerial      *serialport.PortOptions `json:"adc_serial,omitempty"`
	ADCReadTimeout *string                 `json:"adc_read_timeout,omitempty"`
}

// EmptyAlignConfig returns a config with every field unset.
func EmptyAlignConfig() *AlignConfig {
	return &AlignConfig{}
}

// LoadAlignConfig loads an AlignConfig from a JSON file. The file must have
// a .json extension and be at most 1MB.
func LoadAlignConfig(path string) (*AlignConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAlignConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. It panics if the file cannot be loaded and is meant for tests.
func MustLoadDefaultConfig() *AlignConfig {
	for _, prefix := range []string{"", "../", "../../", "../../../"} {
		if cfg, err := LoadAlignConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func positive(name string, v *float64) error {
	if v != nil && (!(*v > 0) || math.IsInf(*v, 0)) {
		return fmt.Errorf("%s must be positive, got %v", name, *v)
	}
	return nil
}

// duration checks a duration string. Bounds that would expire at once must
// be strictly positive.
func duration(name string, v *string, positive bool) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative, got %s", name, *v)
	}
	if positive && d == 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks the values that are set.
func (c *AlignConfig) Validate() error {
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"range", c.Range},
		{"field", c.Field},
		{"beam_waist0", c.BeamWaist0},
		{"beam_wavelength", c.BeamWavelength},
		{"beam_scale_factor", c.BeamScaleFactor},
	} {
		if err := positive(f.name, f.v); err != nil {
			return err
		}
	}

	if c.Threshold != nil && *c.Threshold < 0 {
		return fmt.Errorf("threshold must be non-negative, got %d", *c.Threshold)
	}
	if c.Oversample != nil && *c.Oversample < 1 {
		return fmt.Errorf("oversample must be at least 1, got %d", *c.Oversample)
	}
	if c.StepsPerRevolution != nil && *c.StepsPerRevolution == 0 {
		return fmt.Errorf("steps_per_revolution must be positive")
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", *c.MaxRetries)
	}

	for axis, l := range map[int]mount.Limits{1: c.axisLimits(1), 2: c.axisLimits(2)} {
		if l.Min > l.Max {
			return fmt.Errorf("axis%d_min %d exceeds axis%d_max %d", axis, l.Min, axis, l.Max)
		}
	}

	for _, d := range []struct {
		name     string
		v        *string
		positive bool
	}{
		{"settle_delay", c.SettleDelay, false},
		{"retry_delay", c.RetryDelay, false},
		{"read_timeout", c.ReadTimeout, true},
		{"poll_interval", c.PollInterval, false},
		{"motion_timeout", c.MotionTimeout, true},
		{"adc_read_timeout", c.ADCReadTimeout, true},
	} {
		if err := duration(d.name, d.v, d.positive); err != nil {
			return err
		}
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if c.ADCSerial != nil {
		if _, err := c.ADCSerial.Normalize(); err != nil {
			return fmt.Errorf("adc_serial: %w", err)
		}
	}
	return nil
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetRange returns the link distance in metres, 0 when unset.
func (c *AlignConfig) GetRange() float64 {
	if c.Range == nil {
		return 0
	}
	return *c.Range
}

// GetField returns the field of regard in degrees, 0 when unset.
func (c *AlignConfig) GetField() float64 {
	if c.Field == nil {
		return 0
	}
	return *c.Field
}

// GetThreshold returns the detection threshold or the default.
func (c *AlignConfig) GetThreshold() int {
	if c.Threshold == nil {
		return scan.DefaultThreshold
	}
	return *c.Threshold
}

// GetOversample returns the analog oversample count or the default.
func (c *AlignConfig) GetOversample() int {
	if c.Oversample == nil {
		return analog.DefaultOversample
	}
	return *c.Oversample
}

// GetStepsPerRevolution returns the encoder count of one axis turn.
func (c *AlignConfig) GetStepsPerRevolution() uint32 {
	if c.StepsPerRevolution == nil {
		return mount.DefaultStepsPerRevolution
	}
	return *c.StepsPerRevolution
}

func (c *AlignConfig) axisLimits(axis int) mount.Limits {
	l := mount.Limits{Min: 0, Max: int64(c.GetStepsPerRevolution()) - 1}
	lo, hi := c.Axis1Min, c.Axis1Max
	if axis == 2 {
		lo, hi = c.Axis2Min, c.Axis2Max
	}
	if lo != nil {
		l.Min = *lo
	}
	if hi != nil {
		l.Max = *hi
	}
	return l
}

// GetLegacyLimitMapping reports whether the axis-swapped limit check is on.
func (c *AlignConfig) GetLegacyLimitMapping() bool {
	if c.LegacyLimitMapping == nil {
		return false
	}
	return *c.LegacyLimitMapping
}

// BeamModel returns the beam parameters, defaulting each unset one.
func (c *AlignConfig) BeamModel() beam.Model {
	m := beam.DefaultModel()
	if c.BeamWaist0 != nil {
		m.Waist0 = *c.BeamWaist0
	}
	if c.BeamWavelength != nil {
		m.Wavelength = *c.BeamWavelength
	}
	if c.BeamScaleFactor != nil {
		m.ScaleFactor = *c.BeamScaleFactor
	}
	return m
}

// ChannelConfig returns the command channel timing.
func (c *AlignConfig) ChannelConfig() mount.ChannelConfig {
	def := mount.DefaultChannelConfig()
	cc := mount.ChannelConfig{
		SettleDelay: getDuration(c.SettleDelay, def.SettleDelay),
		RetryDelay:  getDuration(c.RetryDelay, def.RetryDelay),
		MaxRetries:  def.MaxRetries,
		ReadTimeout: getDuration(c.ReadTimeout, def.ReadTimeout),
	}
	if c.MaxRetries != nil {
		cc.MaxRetries = *c.MaxRetries
	}
	return cc
}

// ControllerConfig returns the mount geometry, limits and motion timing.
func (c *AlignConfig) ControllerConfig() mount.ControllerConfig {
	def := mount.DefaultControllerConfig()
	return mount.ControllerConfig{
		StepsPerRevolution: c.GetStepsPerRevolution(),
		Axis1Limits:        c.axisLimits(1),
		Axis2Limits:        c.axisLimits(2),
		LegacyLimitMapping: c.GetLegacyLimitMapping(),
		PollInterval:       getDuration(c.PollInterval, def.PollInterval),
		MotionTimeout:      getDuration(c.MotionTimeout, def.MotionTimeout),
	}
}

// ScanConfig returns the scanner tuning.
func (c *AlignConfig) ScanConfig() scan.Config {
	return scan.Config{
		Threshold:  c.GetThreshold(),
		Oversample: c.GetOversample(),
		Beam:       c.BeamModel(),
	}
}

// SerialOptions returns the mount port options.
func (c *AlignConfig) SerialOptions() serialport.PortOptions {
	if c.Serial == nil {
		return serialport.PortOptions{BaudRate: serialport.DefaultBaudRate}
	}
	return *c.Serial
}

// ADCSerialOptions returns the analog bridge port options.
func (c *AlignConfig) ADCSerialOptions() serialport.PortOptions {
	if c.ADCSerial == nil {
		return serialport.PortOptions{BaudRate: 115200}
	}
	return *c.ADCSerial
}

// GetADCReadTimeout bounds one analog bridge round trip.
func (c *AlignConfig) GetADCReadTimeout() time.Duration {
	return getDuration(c.ADCReadTimeout, 2*time.Second)
}

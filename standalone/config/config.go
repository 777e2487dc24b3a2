package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"stepdrive/core"
	"stepdrive/standalone"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadConfig parses JSON, applies defaults, then STEPDRIVE_* environment
// overrides, and validates the result. Every validation problem is
// reported, not only the first.
func LoadConfig(jsonData []byte) (*standalone.MachineConfig, error) {
	var config standalone.MachineConfig

	if len(jsonData) > 0 {
		if err := json.Unmarshal(jsonData, &config); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	return finish(&config)
}

// LoadConfigYAML is LoadConfig for YAML documents
func LoadConfigYAML(yamlData []byte) (*standalone.MachineConfig, error) {
	var config standalone.MachineConfig

	if len(yamlData) > 0 {
		if err := yaml.UnmarshalStrict(yamlData, &config); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	return finish(&config)
}

// LoadFile reads a configuration file, YAML when the extension is .yaml
// or .yml and JSON otherwise
func LoadFile(path string) (*standalone.MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadConfigYAML(data)
	}
	return LoadConfig(data)
}

func finish(config *standalone.MachineConfig) (*standalone.MachineConfig, error) {
	applyDefaults(config)

	if err := applyEnv(config); err != nil {
		return nil, errors.Wrap(err, "environment overrides")
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides fields tagged with env. The parser does not descend
// into nested structs, so each section is parsed on its own.
func applyEnv(config *standalone.MachineConfig) error {
	sections := []interface{}{
		config,
		&config.Axis,
		&config.Homing,
		&config.Link,
		&config.Driver,
		&config.Limit,
		&config.API,
	}
	var err error
	for _, s := range sections {
		err = multierr.Append(err, env.Parse(s))
	}
	return err
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *standalone.MachineConfig) {
	if config.Mode == "" {
		config.Mode = standalone.ModeSim
	}
	if config.StatusIntervalMs == 0 {
		config.StatusIntervalMs = 1000
	}

	axis := &config.Axis
	if axis.Motor == "" {
		axis.Motor = "nema17"
	}
	if axis.StepMode == "" {
		axis.StepMode = "full"
	}
	if axis.GearRatio == 0 {
		axis.GearRatio = 1
	}
	if axis.MaxSpeed == 0 {
		axis.MaxSpeed = core.DefaultMaxSpeed
	}
	if axis.Acceleration == 0 {
		axis.Acceleration = core.DefaultAcceleration
	}
	if axis.Deceleration == 0 {
		axis.Deceleration = core.DefaultDeceleration
	}

	if config.Homing.SeekSpeed == 0 {
		config.Homing.SeekSpeed = 200
	}
	if config.Homing.MaxTravel == 0 {
		config.Homing.MaxTravel = 10000
	}

	if config.Link.Baud == 0 {
		config.Link.Baud = 250000
	}
	if config.Link.TimeoutMs == 0 {
		config.Link.TimeoutMs = 2000
	}

	if config.Driver.Type == "" {
		config.Driver.Type = standalone.DriverNone
	}
	if config.Driver.Baud == 0 {
		config.Driver.Baud = 115200
	}

	if config.Limit.Type == "" {
		config.Limit.Type = standalone.LimitNone
	}
	if config.Limit.SampleCount == 0 {
		config.Limit.SampleCount = 3
	}
	if config.Limit.ThresholdMM == 0 {
		config.Limit.ThresholdMM = 20
	}
}

// Validate checks a complete configuration
func Validate(config *standalone.MachineConfig) error {
	var errs error
	fail := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, errors.Wrapf(ErrInvalidConfig, format, args...))
	}

	switch config.Mode {
	case standalone.ModeSim, standalone.ModeLink:
	default:
		fail("mode %q, want %q or %q", config.Mode, standalone.ModeSim, standalone.ModeLink)
	}
	if config.StatusIntervalMs < 0 {
		fail("status_interval_ms %d", config.StatusIntervalMs)
	}

	axis := config.Axis
	if _, err := core.ParseMotorFamily(axis.Motor); err != nil {
		fail("axis.motor: %v", err)
	}
	if _, err := core.ParseStepMode(axis.StepMode); err != nil {
		fail("axis.step_mode: %v", err)
	}
	if axis.GearRatio <= 0 {
		fail("axis.gear_ratio %v must be positive", axis.GearRatio)
	}
	if axis.MaxSpeed <= 0 {
		fail("axis.max_speed %v must be positive", axis.MaxSpeed)
	}
	if axis.Acceleration <= 0 {
		fail("axis.acceleration %v must be positive", axis.Acceleration)
	}
	if axis.Deceleration <= 0 {
		fail("axis.deceleration %v must be positive", axis.Deceleration)
	}

	if config.Homing.SeekSpeed <= 0 {
		fail("homing.seek_speed %v must be positive", config.Homing.SeekSpeed)
	}
	if config.Homing.MaxTravel <= 0 {
		fail("homing.max_travel %d must be positive", config.Homing.MaxTravel)
	}
	if config.Homing.Backoff < 0 {
		fail("homing.backoff %d must not be negative", config.Homing.Backoff)
	}

	if config.Mode == standalone.ModeLink && config.Link.Device == "" {
		fail("link.device is required in %s mode", standalone.ModeLink)
	}
	if config.Link.Baud <= 0 {
		fail("link.baud %d", config.Link.Baud)
	}

	switch config.Driver.Type {
	case standalone.DriverNone:
	case standalone.DriverTMC2209:
		if config.Driver.Device == "" {
			fail("driver.device is required for %s", standalone.DriverTMC2209)
		}
		if config.Driver.Address < 0 || config.Driver.Address > 3 {
			fail("driver.address %d, want 0-3", config.Driver.Address)
		}
	default:
		fail("driver.type %q", config.Driver.Type)
	}

	switch config.Limit.Type {
	case standalone.LimitNone, standalone.LimitSim:
	case standalone.LimitVL53L1X:
		if config.Limit.I2CBus == "" {
			fail("limit.i2c_bus is required for %s", standalone.LimitVL53L1X)
		}
		if config.Limit.ThresholdMM <= 0 {
			fail("limit.threshold_mm %d must be positive", config.Limit.ThresholdMM)
		}
	default:
		fail("limit.type %q", config.Limit.Type)
	}
	if config.Limit.CheckUs < 0 || config.Limit.SampleUs < 0 {
		fail("limit.check_us %d and sample_us %d must not be negative", config.Limit.CheckUs, config.Limit.SampleUs)
	}
	if config.Limit.SampleCount < 1 || config.Limit.SampleCount > 255 {
		fail("limit.sample_count %d, want 1-255", config.Limit.SampleCount)
	}

	return errs
}

// DefaultConfig returns a simulated NEMA17 setup
func DefaultConfig() *standalone.MachineConfig {
	var config standalone.MachineConfig
	applyDefaults(&config)
	return &config
}

//go:build linux

package sensor

import (
	"io"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers/vl53l1x"

	"stepdrive/core"
	"stepdrive/host/i2cdev"
	"stepdrive/standalone"
)

// ErrSensorInit is returned when the VL53L1X does not come up
var ErrSensorInit = errors.New("vl53l1x: initialization failed")

// Open starts a VL53L1X on the configured adapter. The returned closer
// stops ranging and releases the adapter.
func Open(cfg standalone.LimitConfig, clock core.Clock) (*ProximityLimit, io.Closer, error) {
	bus, err := i2cdev.Open(cfg.I2CBus)
	if err != nil {
		return nil, nil, err
	}

	dev := vl53l1x.New(bus)
	if !dev.Connected() {
		bus.Close()
		return nil, nil, errors.Wrapf(ErrSensorInit, "no device on %s", cfg.I2CBus)
	}
	if !dev.Configure(true) {
		bus.Close()
		return nil, nil, errors.Wrap(ErrSensorInit, "configure")
	}
	dev.SetDistanceMode(vl53l1x.SHORT)
	dev.SetMeasurementTimingBudget(DefaultPeriodMs * 1000)
	dev.StartContinuous(DefaultPeriodMs)

	limit := NewProximityLimit(&dev, clock, cfg.ThresholdMM, DefaultPeriodMs)
	return limit, closerFunc(func() error {
		dev.StopContinuous()
		return bus.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

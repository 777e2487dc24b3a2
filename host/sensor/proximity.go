// Package sensor turns a time-of-flight range sensor into a limit input
package sensor

import (
	"tinygo.org/x/drivers/vl53l1x"

	"stepdrive/core"
)

// DefaultPeriodMs is the ranging period used in continuous mode
const DefaultPeriodMs = 20

// RangeReader is the part of vl53l1x.Device a limit needs
type RangeReader interface {
	Read(blocking bool) uint16
	Status() vl53l1x.RangeStatus
}

// ProximityLimit reports a trigger while a valid range is at or below the
// threshold. The sensor is read at most once per period; polls in between
// return the previous result.
type ProximityLimit struct {
	sensor      RangeReader
	clock       core.Clock
	thresholdMM uint16
	period      uint32 // µs

	lastRead  uint32
	haveRead  bool
	triggered bool
	lastMM    uint16
}

var _ core.LimitSensor = (*ProximityLimit)(nil)

// NewProximityLimit wraps a sensor already ranging continuously
func NewProximityLimit(sensor RangeReader, clock core.Clock, thresholdMM int, periodMs int) *ProximityLimit {
	if periodMs <= 0 {
		periodMs = DefaultPeriodMs
	}
	if thresholdMM < 0 {
		thresholdMM = 0
	}
	if thresholdMM > 0xFFFF {
		thresholdMM = 0xFFFF
	}
	return &ProximityLimit{
		sensor:      sensor,
		clock:       clock,
		thresholdMM: uint16(thresholdMM),
		period:      uint32(periodMs) * 1000,
	}
}

// IsTriggered implements core.LimitSensor
func (p *ProximityLimit) IsTriggered() bool {
	now := p.clock.NowMicros()
	if p.haveRead && core.ElapsedMicros(now, p.lastRead) < p.period {
		return p.triggered
	}
	p.lastRead = now
	p.haveRead = true

	mm := p.sensor.Read(false)
	p.lastMM = mm
	switch p.sensor.Status() {
	case vl53l1x.RangeValid, vl53l1x.RangeValidMinRangeClipped, vl53l1x.RangeValidNoWrapCheckFail:
		p.triggered = mm <= p.thresholdMM
	default:
		// No target in range reads as open
		p.triggered = false
	}
	return p.triggered
}

// LastRange returns the most recent reading in mm
func (p *ProximityLimit) LastRange() uint16 {
	return p.lastMM
}

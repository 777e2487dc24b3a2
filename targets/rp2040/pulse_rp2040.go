//go:build rp2040

package main

import (
	"stepdrive/core"
	"stepdrive/targets/pio"
)

// newPulseDriver prefers a PIO state machine and falls back to GPIO
func newPulseDriver(pins pio.Pins) core.PulseDriver {
	d, err := pio.NewPIODriver(pins)
	if err != nil {
		return pio.NewGPIODriver(pins)
	}
	return d
}

//go:build rp2350

package main

import (
	"stepdrive/core"
	"stepdrive/targets/pio"
)

func newPulseDriver(pins pio.Pins) core.PulseDriver {
	return pio.NewGPIODriver(pins)
}

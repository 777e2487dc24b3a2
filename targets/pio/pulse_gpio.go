//go:build rp2040 || rp2350

package pio

import (
	"device/arm"
	"device/rp"
	"machine"

	"stepdrive/core"
)

// Pins names the outputs of one axis
type Pins struct {
	Step         machine.Pin
	Dir          machine.Pin
	Enable       machine.Pin // machine.NoPin when hard-wired
	InvertDir    bool
	InvertEnable bool // true for active-low enable inputs
}

// GPIODriver is a core.PulseDriver that toggles pins through SIO with a
// busy-wait pulse. It works on any pin and needs no state machine.
type GPIODriver struct {
	stepMask  uint32
	dirMask   uint32
	enable    machine.Pin
	invertDir bool
	invertEn  bool
}

var (
	_ core.PulseDriver = (*GPIODriver)(nil)
	_ core.Enabler     = (*GPIODriver)(nil)
)

// NewGPIODriver configures the pins as outputs and leaves the driver stage
// disabled
func NewGPIODriver(pins Pins) *GPIODriver {
	pins.Step.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pins.Step.Low()
	pins.Dir.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pins.Dir.Low()

	d := &GPIODriver{
		stepMask:  1 << uint32(pins.Step),
		dirMask:   1 << uint32(pins.Dir),
		enable:    pins.Enable,
		invertDir: pins.InvertDir,
		invertEn:  pins.InvertEnable,
	}
	if d.enable != machine.NoPin {
		d.enable.Configure(machine.PinConfig{Mode: machine.PinOutput})
		d.SetEnabled(false)
	}
	return d
}

// SetDirection writes the direction pin and holds the TMC2209 20ns setup
// time (3 cycles at 125 MHz)
func (d *GPIODriver) SetDirection(clockwise bool) {
	if DirLevel(clockwise, d.invertDir) {
		rp.SIO.GPIO_OUT_SET.Set(d.dirMask)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(d.dirMask)
	}
	arm.Asm("nop\nnop\nnop")
}

// EmitPulse drives step high for about 104ns (13 cycles at 125 MHz)
func (d *GPIODriver) EmitPulse() {
	rp.SIO.GPIO_OUT_SET.Set(d.stepMask)
	arm.Asm("nop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop")
	rp.SIO.GPIO_OUT_CLR.Set(d.stepMask)
}

func (d *GPIODriver) SetEnabled(on bool) {
	if d.enable != machine.NoPin {
		d.enable.Set(on != d.invertEn)
	}
}

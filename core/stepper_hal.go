package core

// PulseDriver is the hardware abstraction the motion engine steps through.
// Implementations can use GPIO, PIO, a TMC step/dir input or a simulator.
type PulseDriver interface {
	// SetDirection sets the direction output.
	// clockwise: true = positive step direction
	// Must hold the dir-to-step setup time before returning
	SetDirection(clockwise bool)

	// EmitPulse drives the step output high then low.
	// Must handle pulse width timing internally
	// Should be fast (called from the poll loop)
	EmitPulse()
}

// Enabler is implemented by drivers that own the driver-stage enable pin.
// Polarity is the implementation's concern.
type Enabler interface {
	SetEnabled(on bool)
}

// PinInput samples a digital input; true = high
type PinInput func() bool

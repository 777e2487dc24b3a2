//go:build rp2350

package main

// TIMER0 sits at a different address than on the RP2040
const (
	timerBase       = 0x400B0000
	timerRawHOffset = 0x24
	timerRawLOffset = 0x28
)

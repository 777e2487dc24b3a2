//go:build rp2040

package main

const (
	timerBase       = 0x40054000
	timerRawHOffset = 0x24
	timerRawLOffset = 0x28
)

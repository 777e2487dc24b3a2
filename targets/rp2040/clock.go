//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"
)

var (
	timerRawH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerBase + timerRawHOffset)))
	timerRawL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerBase + timerRawLOffset)))
)

// hwClock reads the 1 MHz hardware timer. It implements core.Clock
// without going through the runtime.
type hwClock struct{}

// NowMicros returns the low 32 bits of the timer
func (hwClock) NowMicros() uint32 {
	return timerRawL.Get()
}

// Uptime reads the full 64-bit timer, retrying across a low word rollover
func (hwClock) Uptime() uint64 {
	for {
		high1 := timerRawH.Get()
		low := timerRawL.Get()
		high2 := timerRawH.Get()
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

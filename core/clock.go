package core

import "math"

// MicrosPerSecond is the resolution of the engine clock
const MicrosPerSecond = 1000000

// Clock is the monotonic microsecond time source the engine polls against.
// The counter is free-running and wraps at 2^32 (about 71 minutes).
type Clock interface {
	NowMicros() uint32
}

// ClockFunc adapts a plain function to Clock
type ClockFunc func() uint32

// NowMicros implements Clock
func (f ClockFunc) NowMicros() uint32 {
	return f()
}

// ElapsedMicros returns the time from since to now.
// Unsigned subtraction keeps the result correct across one counter wrap.
func ElapsedMicros(now, since uint32) uint32 {
	return now - since
}

// timeBefore reports whether a is earlier than b on the wrapping clock
func timeBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// MinStepSpeed is the slowest speed whose step interval fits the 32-bit
// microsecond clock
const MinStepSpeed = float64(MicrosPerSecond) / math.MaxUint32

// IntervalFromSpeed converts a speed in steps/s to a step interval in µs.
// Speeds below MinStepSpeed saturate at the longest interval.
func IntervalFromSpeed(stepsPerSecond float64) uint32 {
	if stepsPerSecond <= 0 {
		return 0
	}
	interval := MicrosPerSecond / stepsPerSecond
	if interval >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(interval)
}

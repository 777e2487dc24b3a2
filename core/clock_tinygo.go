//go:build tinygo

package core

import "time"

// SystemClock reads the TinyGo runtime's monotonic ticker
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a Clock counting from boot
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// NowMicros implements Clock. The result truncates to 32 bits and wraps.
func (c *SystemClock) NowMicros() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}

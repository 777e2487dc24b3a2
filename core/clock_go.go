//go:build !tinygo

package core

import (
	"time"

	"github.com/benbjohnson/clock"
)

// SystemClock measures microseconds since its creation on a clock.Clock
type SystemClock struct {
	clk   clock.Clock
	start time.Time
}

// NewSystemClock returns a Clock backed by the host wall clock
func NewSystemClock() *SystemClock {
	return NewClockFrom(clock.New())
}

// NewClockFrom wraps any clock.Clock, notably *clock.Mock in tests
func NewClockFrom(clk clock.Clock) *SystemClock {
	return &SystemClock{
		clk:   clk,
		start: clk.Now(),
	}
}

// NowMicros implements Clock. The result truncates to 32 bits and wraps.
func (c *SystemClock) NowMicros() uint32 {
	return uint32(c.clk.Since(c.start).Microseconds())
}

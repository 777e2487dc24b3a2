package core

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestSystemClockFromMock(t *testing.T) {
	mock := clock.NewMock()
	c := NewClockFrom(mock)

	if c.NowMicros() != 0 {
		t.Fatalf("expected 0 at creation, got %d", c.NowMicros())
	}
	mock.Add(1500 * time.Microsecond)
	if c.NowMicros() != 1500 {
		t.Errorf("expected 1500, got %d", c.NowMicros())
	}
	mock.Add(2 * time.Second)
	if c.NowMicros() != 2001500 {
		t.Errorf("expected 2001500, got %d", c.NowMicros())
	}
}

func TestElapsedMicrosWraps(t *testing.T) {
	testCases := []struct {
		now, since, want uint32
	}{
		{100, 40, 60},
		{5, math.MaxUint32 - 4, 10},
		{0, math.MaxUint32, 1},
	}
	for _, tc := range testCases {
		if got := ElapsedMicros(tc.now, tc.since); got != tc.want {
			t.Errorf("ElapsedMicros(%d, %d) = %d, want %d", tc.now, tc.since, got, tc.want)
		}
	}
}

func TestTimeBefore(t *testing.T) {
	if !timeBefore(math.MaxUint32-10, 10) {
		t.Error("time just before the wrap should order before time just after")
	}
	if timeBefore(10, math.MaxUint32-10) {
		t.Error("wrapped time should order after")
	}
	if timeBefore(7, 7) {
		t.Error("equal times are not before each other")
	}
}

func TestIntervalConversions(t *testing.T) {
	testCases := []struct {
		speed    float64
		interval uint32
	}{
		{1000, 1000},
		{50, 20000},
		{60, 16666},
		{0, 0},
		{-5, 0},
		{MinStepSpeed / 2, math.MaxUint32},
		{1e-12, math.MaxUint32},
	}
	for _, tc := range testCases {
		if got := IntervalFromSpeed(tc.speed); got != tc.interval {
			t.Errorf("IntervalFromSpeed(%v) = %d, want %d", tc.speed, got, tc.interval)
		}
	}
}

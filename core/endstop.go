// Endstop handling for GPIO-based limit switches, hall sensors, etc.
// A trigger is only reported after SampleCount consecutive matching samples.
package core

// LimitSensor reports whether the axis has reached its limit
type LimitSensor interface {
	IsTriggered() bool
}

// LimitFunc adapts a predicate to LimitSensor
type LimitFunc func() bool

// IsTriggered implements LimitSensor
func (f LimitFunc) IsTriggered() bool {
	return f()
}

// Endstop flags
const (
	ESF_PIN_HIGH  = 1 << 0 // Expected pin state when triggered (1=high, 0=low)
	ESF_SAMPLING  = 1 << 1 // Timer sampling armed
	ESF_TRIGGERED = 1 << 2 // Trigger confirmed and latched
)

// Endstop debounces a digital limit input
type Endstop struct {
	Pin          PinInput
	Flags        uint8  // State flags (ESF_*)
	Timer        Timer  // Timer for scheduled sampling
	SampleTime   uint32 // µs between oversamples
	SampleCount  uint8  // Consecutive samples required
	TriggerCount uint8  // Remaining samples before trigger
	RestTime     uint32 // µs between check cycles
	NextWake     uint32 // Next check cycle after an aborted oversample
}

// NewEndstop creates an endstop reading pin. triggerHigh selects the
// active level; sampleCount below 1 is treated as 1.
func NewEndstop(pin PinInput, triggerHigh bool, sampleCount uint8) *Endstop {
	if sampleCount == 0 {
		sampleCount = 1
	}
	es := &Endstop{
		Pin:          pin,
		SampleCount:  sampleCount,
		TriggerCount: sampleCount,
	}
	if triggerHigh {
		es.Flags |= ESF_PIN_HIGH
	}
	return es
}

// active reports whether the pin is at the trigger level
func (es *Endstop) active() bool {
	expectHigh := es.Flags&ESF_PIN_HIGH != 0
	return es.Pin() == expectHigh
}

// IsTriggered implements LimitSensor. When timer sampling is armed it
// returns the latched result; otherwise it takes one sample per call.
func (es *Endstop) IsTriggered() bool {
	if es.Flags&(ESF_TRIGGERED|ESF_SAMPLING) != 0 {
		return es.Flags&ESF_TRIGGERED != 0
	}
	if !es.active() {
		es.TriggerCount = es.SampleCount
		return false
	}
	es.TriggerCount--
	if es.TriggerCount == 0 {
		es.Flags |= ESF_TRIGGERED
		return true
	}
	return false
}

// Reset clears a latched trigger and stops timer sampling
func (es *Endstop) Reset() {
	es.Flags &^= ESF_TRIGGERED | ESF_SAMPLING
	es.TriggerCount = es.SampleCount
}

// Arm starts scheduled sampling: a check every restTime µs, then
// sampleTime µs oversampling once the pin goes active.
func (es *Endstop) Arm(s *Scheduler, start, sampleTime, restTime uint32) {
	s.Cancel(&es.Timer)
	es.Reset()
	if sampleTime == 0 {
		sampleTime = 1
	}
	if restTime == 0 {
		restTime = 1
	}
	es.SampleTime = sampleTime
	es.RestTime = restTime
	es.Flags |= ESF_SAMPLING
	es.Timer.WakeTime = start
	es.Timer.Handler = es.checkEvent
	s.Schedule(&es.Timer)
}

// Armed reports whether scheduled sampling is still looking for a trigger
func (es *Endstop) Armed() bool {
	return es.Flags&ESF_SAMPLING != 0
}

// Disarm takes the sampling timer off s and clears any latched trigger
func (es *Endstop) Disarm(s *Scheduler) {
	s.Cancel(&es.Timer)
	es.Reset()
}

// checkEvent is the first-stage check that looks for a potential trigger
func (es *Endstop) checkEvent(t *Timer) uint8 {
	if es.Flags&ESF_SAMPLING == 0 {
		return SF_DONE
	}
	nextWake := t.WakeTime + es.RestTime
	if !es.active() {
		t.WakeTime = nextWake
		return SF_RESCHEDULE
	}

	// Potential trigger detected - start oversampling
	es.NextWake = nextWake
	t.Handler = es.oversampleEvent
	return es.oversampleEvent(t)
}

// oversampleEvent confirms the trigger by taking consecutive samples
func (es *Endstop) oversampleEvent(t *Timer) uint8 {
	if es.Flags&ESF_SAMPLING == 0 {
		return SF_DONE
	}
	if !es.active() {
		// No longer matching - back to the rest cadence
		t.Handler = es.checkEvent
		t.WakeTime = es.NextWake
		es.TriggerCount = es.SampleCount
		return SF_RESCHEDULE
	}

	es.TriggerCount--
	if es.TriggerCount == 0 {
		es.Flags = es.Flags&^ESF_SAMPLING | ESF_TRIGGERED
		return SF_DONE
	}

	t.WakeTime += es.SampleTime
	return SF_RESCHEDULE
}

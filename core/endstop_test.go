package core

import "testing"

type testPin struct {
	level bool
}

func (p *testPin) read() bool { return p.level }

func TestEndstopDebounce(t *testing.T) {
	pin := &testPin{}
	es := NewEndstop(pin.read, true, 3)

	if es.IsTriggered() {
		t.Fatal("inactive pin reported triggered")
	}

	pin.level = true
	if es.IsTriggered() || es.IsTriggered() {
		t.Fatal("triggered before three consecutive samples")
	}
	// A bounce restarts the count
	pin.level = false
	es.IsTriggered()
	pin.level = true
	es.IsTriggered()
	es.IsTriggered()
	if !es.IsTriggered() {
		t.Fatal("expected trigger on the third consecutive sample")
	}

	// Latched until Reset
	pin.level = false
	if !es.IsTriggered() {
		t.Error("trigger should latch")
	}
	es.Reset()
	if es.IsTriggered() {
		t.Error("Reset should clear the latch")
	}
}

func TestEndstopActiveLow(t *testing.T) {
	pin := &testPin{level: true}
	es := NewEndstop(pin.read, false, 0)

	if es.IsTriggered() {
		t.Fatal("high level should be inactive for an active-low switch")
	}
	pin.level = false
	if !es.IsTriggered() {
		t.Error("sample count 0 should trigger on the first active sample")
	}
}

func TestEndstopArmedSampling(t *testing.T) {
	clk := &fakeClock{}
	s := NewScheduler(clk)
	pin := &testPin{}
	es := NewEndstop(pin.read, true, 3)

	clk.now = 100
	es.Arm(s, 100, 10, 1000)
	s.Dispatch()
	if es.Timer.WakeTime != 1100 {
		t.Fatalf("inactive check should wait the rest time, wake %d", es.Timer.WakeTime)
	}

	pin.level = true
	clk.now = 1100
	s.Dispatch() // first oversample
	if es.IsTriggered() {
		t.Fatal("triggered after one sample")
	}
	clk.now = 1110
	s.Dispatch()
	clk.now = 1120
	s.Dispatch()
	if !es.IsTriggered() {
		t.Fatal("expected trigger after three samples")
	}
	if s.Pending() != 0 {
		t.Errorf("timer should be done, %d pending", s.Pending())
	}
}

func TestEndstopArmedBounce(t *testing.T) {
	clk := &fakeClock{}
	s := NewScheduler(clk)
	pin := &testPin{level: true}
	es := NewEndstop(pin.read, true, 3)

	es.Arm(s, 0, 10, 1000)
	s.Dispatch()

	pin.level = false
	clk.now = 10
	s.Dispatch()
	if es.Timer.WakeTime != 1000 {
		t.Errorf("bounce should return to the rest cadence, wake %d", es.Timer.WakeTime)
	}
	if es.IsTriggered() {
		t.Error("bounce must not trigger")
	}
	if es.TriggerCount != 3 {
		t.Errorf("bounce should reset the sample count, got %d", es.TriggerCount)
	}
}

func TestEndstopRearmAndDisarm(t *testing.T) {
	clk := &fakeClock{}
	s := NewScheduler(clk)
	pin := &testPin{}
	es := NewEndstop(pin.read, true, 1)

	es.Arm(s, 0, 10, 1000)
	es.Arm(s, 0, 10, 1000)
	if s.Pending() != 1 {
		t.Fatalf("re-arming left %d timers, want 1", s.Pending())
	}
	if !es.Armed() {
		t.Fatal("not armed")
	}

	es.Disarm(s)
	if s.Pending() != 0 || es.Armed() {
		t.Errorf("disarm left %d timers, armed=%v", s.Pending(), es.Armed())
	}
	pin.level = true
	if !es.IsTriggered() {
		t.Error("a disarmed endstop should sample on each call")
	}
}

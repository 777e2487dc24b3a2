package core

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// fakeClock is advanced by hand
type fakeClock struct {
	now uint32
}

func (c *fakeClock) NowMicros() uint32 { return c.now }

func (c *fakeClock) advance(us uint32) { c.now += us }

// recordingDriver logs every call made by the engine
type recordingDriver struct {
	pulses    int
	dirWrites []bool
	enables   []bool
	// dirAtPulse is the direction in effect for each pulse
	dirAtPulse []bool
	dir        bool
}

func (d *recordingDriver) SetDirection(clockwise bool) {
	d.dir = clockwise
	d.dirWrites = append(d.dirWrites, clockwise)
}

func (d *recordingDriver) EmitPulse() {
	d.pulses++
	d.dirAtPulse = append(d.dirAtPulse, d.dir)
}

func (d *recordingDriver) SetEnabled(on bool) {
	d.enables = append(d.enables, on)
}

func newTestEngine() (*MotionEngine, *fakeClock, *recordingDriver) {
	clk := &fakeClock{now: 1000}
	drv := &recordingDriver{}
	return NewMotionEngine(clk, drv), clk, drv
}

// pollUntilIdle polls every pollStep µs until the engine stops or maxPolls
// is reached. It returns the speed after each emitted pulse while moving.
func pollUntilIdle(t *testing.T, e *MotionEngine, clk *fakeClock, pollStep uint32, maxPolls int) []float64 {
	t.Helper()
	var speeds []float64
	for i := 0; i < maxPolls; i++ {
		if !e.IsRunning() {
			return speeds
		}
		if e.Run() && e.IsRunning() {
			speeds = append(speeds, e.CurrentSpeed())
		}
		clk.advance(pollStep)
	}
	if e.IsRunning() {
		t.Fatalf("engine still running after %d polls at position %d (target %d)",
			maxPolls, e.CurrentPosition(), e.TargetPosition())
	}
	return speeds
}

func TestNewEngineDefaults(t *testing.T) {
	e, _, _ := newTestEngine()

	want := MotionState{
		MaxSpeed:     DefaultMaxSpeed,
		Acceleration: DefaultAcceleration,
		Deceleration: DefaultDeceleration,
		Phase:        PhaseIdle,
	}
	if diff := cmp.Diff(want, e.Snapshot()); diff != "" {
		t.Errorf("initial state mismatch (-want +got):\n%s", diff)
	}
	if e.StepsPerRevolution() != DefaultStepsPerRev {
		t.Errorf("expected %d steps/rev, got %v", DefaultStepsPerRev, e.StepsPerRevolution())
	}
}

func TestMoveRelativeReachesTarget(t *testing.T) {
	for _, delta := range []int64{1, 2, 7, 400, -1, -300, 2500} {
		e, clk, drv := newTestEngine()
		e.Enable()
		e.MoveRelative(delta)

		pollUntilIdle(t, e, clk, 10, 5000000)

		if e.CurrentPosition() != delta {
			t.Errorf("delta %d: ended at %d", delta, e.CurrentPosition())
		}
		abs := delta
		if abs < 0 {
			abs = -abs
		}
		if int64(drv.pulses) != abs {
			t.Errorf("delta %d: %d pulses", delta, drv.pulses)
		}
		if e.CurrentSpeed() != 0 || e.Phase() != PhaseIdle {
			t.Errorf("delta %d: expected idle at rest, speed %v phase %v", delta, e.CurrentSpeed(), e.Phase())
		}
		if e.StepCount() != uint32(abs) {
			t.Errorf("delta %d: step count %d", delta, e.StepCount())
		}
	}
}

func TestScenario400Steps(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.Enable()
	e.MoveRelative(400)

	speeds := pollUntilIdle(t, e, clk, 10, 1000000)

	if e.CurrentPosition() != 400 || drv.pulses != 400 {
		t.Fatalf("expected 400 steps, position %d pulses %d", e.CurrentPosition(), drv.pulses)
	}

	peak := 0
	for i, v := range speeds {
		if v > DefaultMaxSpeed {
			t.Fatalf("speed %v above max at step %d", v, i)
		}
		if v < FloorSpeed {
			t.Fatalf("speed %v below floor at step %d", v, i)
		}
		if v > speeds[peak] {
			peak = i
		}
	}
	for i := 1; i <= peak; i++ {
		if speeds[i] < speeds[i-1] {
			t.Errorf("speed fell during ramp-up at step %d: %v -> %v", i, speeds[i-1], speeds[i])
		}
	}
	for i := peak + 1; i < len(speeds); i++ {
		if speeds[i] > speeds[i-1] {
			t.Errorf("speed rose during ramp-down at step %d: %v -> %v", i, speeds[i-1], speeds[i])
		}
	}
	// 400 steps at 500 steps/s^2 never reaches cruise
	if speeds[peak] >= DefaultMaxSpeed || speeds[peak] < 300 {
		t.Errorf("unexpected peak speed %v", speeds[peak])
	}
}

func TestLongMoveCruises(t *testing.T) {
	e, clk, _ := newTestEngine()
	e.Enable()
	e.MoveRelative(5000)

	sawCruise := false
	for i := 0; i < 2000000 && e.IsRunning(); i++ {
		e.Run()
		if e.Phase() == PhaseCruising {
			sawCruise = true
			if e.CurrentSpeed() != DefaultMaxSpeed {
				t.Fatalf("cruising at %v", e.CurrentSpeed())
			}
		}
		clk.advance(10)
	}
	if !sawCruise {
		t.Error("expected a cruise segment")
	}
	if e.CurrentPosition() != 5000 {
		t.Errorf("ended at %d", e.CurrentPosition())
	}
}

func TestFirstStepImmediateThenTimed(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.Enable()
	e.MoveRelative(100)

	if !e.Run() {
		t.Fatal("first step should be due immediately")
	}
	// Floor 50 steps/s accelerated by 500*0.02 gives 60 steps/s
	if e.StepInterval() != 16666 {
		t.Fatalf("expected interval 16666, got %d", e.StepInterval())
	}

	clk.advance(16665)
	if e.Run() {
		t.Fatal("step emitted before its interval elapsed")
	}
	clk.advance(1)
	if !e.Run() {
		t.Fatal("step not emitted when due")
	}
	if drv.pulses != 2 {
		t.Errorf("expected 2 pulses, got %d", drv.pulses)
	}
}

func TestRotateRevolutionsExact(t *testing.T) {
	e, clk, drv := newTestEngine()
	if err := e.SetGeometry(200, 1); err != nil {
		t.Fatal(err)
	}
	e.Enable()
	e.RotateRevolutions(1.0)
	pollUntilIdle(t, e, clk, 10, 5000000)

	if drv.pulses != 200 || e.CurrentPosition() != 200 {
		t.Errorf("expected 200 steps, pulses %d position %d", drv.pulses, e.CurrentPosition())
	}
}

func TestRotateTruncates(t *testing.T) {
	testCases := []struct {
		stepsPerRev int
		gear        float64
		degrees     float64
		want        int64
	}{
		{200, 1, 90, 50},
		{200, 1, 1, 0},  // 0.55 steps
		{200, 1, 10, 5}, // 5.55 steps
		{200, 2, -45, -50},
		{3200, 1, 360, 3200},
	}

	for _, tc := range testCases {
		e, _, _ := newTestEngine()
		if err := e.SetGeometry(tc.stepsPerRev, tc.gear); err != nil {
			t.Fatal(err)
		}
		e.Rotate(tc.degrees)
		if e.TargetPosition() != tc.want {
			t.Errorf("Rotate(%v) with %d steps/rev gear %v: target %d, want %d",
				tc.degrees, tc.stepsPerRev, tc.gear, e.TargetPosition(), tc.want)
		}
	}
}

func TestMoveToCurrentPosition(t *testing.T) {
	e, _, drv := newTestEngine()
	e.Enable()
	e.MoveTo(0)

	if e.Run() {
		t.Error("no pulse expected")
	}
	if e.IsRunning() || drv.pulses != 0 {
		t.Errorf("expected idle with no pulses, running %v pulses %d", e.IsRunning(), drv.pulses)
	}
	if e.Snapshot().Moving {
		t.Error("moving should be cleared after the poll")
	}
}

func TestStopHaltsImmediately(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.Enable()
	e.MoveRelative(400)
	for drv.pulses < 10 {
		e.Run()
		clk.advance(10)
	}

	e.Stop()
	if e.IsRunning() {
		t.Fatal("IsRunning true after Stop")
	}
	pos := e.CurrentPosition()
	if e.TargetPosition() != pos || e.CurrentSpeed() != 0 || e.Phase() != PhaseIdle {
		t.Errorf("unexpected state after stop: %+v", e.Snapshot())
	}

	for i := 0; i < 10000; i++ {
		if e.Run() {
			t.Fatal("pulse after Stop")
		}
		clk.advance(10)
	}
	if e.CurrentPosition() != pos {
		t.Errorf("position changed after stop: %d -> %d", pos, e.CurrentPosition())
	}
}

func TestPollWhileIdleMutatesNothing(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.Enable()
	e.MoveRelative(5)
	pollUntilIdle(t, e, clk, 10, 1000000)

	before := e.Snapshot()
	pulses := drv.pulses
	for i := 0; i < 1000; i++ {
		e.Run()
		clk.advance(1000)
	}
	if diff := cmp.Diff(before, e.Snapshot()); diff != "" {
		t.Errorf("idle polling changed state (-before +after):\n%s", diff)
	}
	if drv.pulses != pulses {
		t.Errorf("idle polling emitted %d pulses", drv.pulses-pulses)
	}
}

func TestDirection(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.Enable()

	e.MoveRelative(-20)
	pollUntilIdle(t, e, clk, 10, 1000000)
	if e.CurrentPosition() != -20 {
		t.Fatalf("ended at %d", e.CurrentPosition())
	}
	if e.Clockwise() {
		t.Error("negative move should leave direction counter-clockwise")
	}

	e.MoveRelative(30)
	pollUntilIdle(t, e, clk, 10, 1000000)
	if e.CurrentPosition() != 10 {
		t.Fatalf("ended at %d", e.CurrentPosition())
	}

	// Direction is written once per change, always before the pulse
	if diff := cmp.Diff([]bool{false, true}, drv.dirWrites); diff != "" {
		t.Errorf("direction writes mismatch (-want +got):\n%s", diff)
	}
	for i, cw := range drv.dirAtPulse {
		want := i >= 20
		if cw != want {
			t.Fatalf("pulse %d emitted with clockwise=%v", i, cw)
		}
	}
}

func TestRetargetReversesDirection(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.Enable()
	e.MoveTo(100)
	for drv.pulses < 5 {
		e.Run()
		clk.advance(10)
	}

	e.MoveTo(-10)
	last := e.CurrentPosition()
	for i := 0; i < 1000000 && e.IsRunning(); i++ {
		if e.Run() {
			if e.CurrentPosition() != last-1 {
				t.Fatalf("position moved %d -> %d after reversing", last, e.CurrentPosition())
			}
			last = e.CurrentPosition()
		}
		clk.advance(10)
	}
	if e.CurrentPosition() != -10 {
		t.Errorf("ended at %d", e.CurrentPosition())
	}
}

func TestSetterValidation(t *testing.T) {
	e, _, _ := newTestEngine()
	setters := map[string]func(float64) error{
		"max speed":    e.SetMaxSpeed,
		"acceleration": e.SetAcceleration,
		"deceleration": e.SetDeceleration,
	}
	bad := []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)}

	for name, set := range setters {
		for _, v := range bad {
			err := set(v)
			if !errors.Is(err, ErrInvalidLimit) {
				t.Errorf("%s %v: expected ErrInvalidLimit, got %v", name, v, err)
			}
		}
		if err := set(250); err != nil {
			t.Errorf("%s 250: %v", name, err)
		}
	}

	s := e.Snapshot()
	if s.MaxSpeed != 250 || s.Acceleration != 250 || s.Deceleration != 250 {
		t.Errorf("valid values not applied: %+v", s)
	}

	if err := e.SetGeometry(0, 1); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry, got %v", err)
	}
	if err := e.SetGeometry(200, -2); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestSpeedNeverExceedsLowMaxSpeed(t *testing.T) {
	e, clk, _ := newTestEngine()
	if err := e.SetMaxSpeed(20); err != nil {
		t.Fatal(err)
	}
	e.Enable()
	e.MoveRelative(15)

	for i := 0; i < 2000000 && e.IsRunning(); i++ {
		e.Run()
		if e.CurrentSpeed() > 20 {
			t.Fatalf("speed %v above max 20", e.CurrentSpeed())
		}
		clk.advance(10)
	}
	if e.CurrentPosition() != 15 {
		t.Errorf("ended at %d", e.CurrentPosition())
	}
}

func TestMoveWhileDisabledIsStored(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.MoveTo(5)

	for i := 0; i < 100; i++ {
		if e.Run() {
			t.Fatal("pulse while disabled")
		}
		clk.advance(1000)
	}
	if !e.IsRunning() {
		t.Fatal("stored move should keep the engine running")
	}

	e.Enable()
	pollUntilIdle(t, e, clk, 10, 1000000)
	if e.CurrentPosition() != 5 || drv.pulses != 5 {
		t.Errorf("expected 5 steps after enable, position %d pulses %d", e.CurrentPosition(), drv.pulses)
	}
}

func TestDisableMidMoveResumesFromFloor(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.Enable()
	e.MoveTo(200)
	for drv.pulses < 30 {
		e.Run()
		clk.advance(10)
	}

	e.Disable()
	if e.CurrentSpeed() != 0 {
		t.Errorf("Disable should zero speed, got %v", e.CurrentSpeed())
	}
	if e.TargetPosition() != 200 || !e.IsRunning() {
		t.Error("Disable should keep the target")
	}

	e.Enable()
	if !e.Run() {
		t.Fatal("resumed move should step immediately")
	}
	// Restarted from the floor: one Euler step above 50 steps/s
	if e.CurrentSpeed() != 60 {
		t.Errorf("expected restart at 60 steps/s, got %v", e.CurrentSpeed())
	}
	pollUntilIdle(t, e, clk, 10, 1000000)
	if e.CurrentPosition() != 200 {
		t.Errorf("ended at %d", e.CurrentPosition())
	}
	if diff := cmp.Diff([]bool{true, false, true}, drv.enables); diff != "" {
		t.Errorf("enable calls mismatch (-want +got):\n%s", diff)
	}
}

func TestEmergencyStop(t *testing.T) {
	e, clk, drv := newTestEngine()
	e.Enable()
	e.MoveRelative(100)
	for drv.pulses < 3 {
		e.Run()
		clk.advance(10)
	}

	e.EmergencyStop()
	if e.IsRunning() || e.IsEnabled() {
		t.Errorf("expected stopped and disabled, running %v enabled %v", e.IsRunning(), e.IsEnabled())
	}
	if last := drv.enables[len(drv.enables)-1]; last {
		t.Error("driver stage should be disabled")
	}

	e.Enable()
	for i := 0; i < 1000; i++ {
		if e.Run() {
			t.Fatal("emergency stop must not resume on enable")
		}
		clk.advance(100)
	}
}

func TestSetHomeAndGoHome(t *testing.T) {
	e, clk, _ := newTestEngine()
	e.Enable()
	e.MoveRelative(25)
	pollUntilIdle(t, e, clk, 10, 1000000)

	e.SetHome()
	if e.CurrentPosition() != 0 || e.TargetPosition() != 0 {
		t.Fatalf("SetHome left position %d target %d", e.CurrentPosition(), e.TargetPosition())
	}

	e.MoveRelative(-40)
	pollUntilIdle(t, e, clk, 10, 1000000)
	e.GoHome()
	pollUntilIdle(t, e, clk, 10, 1000000)
	if e.CurrentPosition() != 0 {
		t.Errorf("GoHome ended at %d", e.CurrentPosition())
	}
}

func TestClockWrapDuringMove(t *testing.T) {
	e, clk, _ := newTestEngine()
	clk.now = math.MaxUint32 - 50000
	e.Enable()
	e.MoveRelative(50)

	pollUntilIdle(t, e, clk, 10, 1000000)
	if e.CurrentPosition() != 50 {
		t.Errorf("ended at %d", e.CurrentPosition())
	}
	if clk.now > math.MaxUint32-50000 {
		t.Error("test did not cross the clock wrap")
	}
}

func TestAccelerationChangeAppliesToNextStep(t *testing.T) {
	e, clk, _ := newTestEngine()
	e.Enable()
	e.MoveRelative(1000)
	if !e.Run() {
		t.Fatal("expected first step")
	}
	before := e.StepInterval()

	if err := e.SetAcceleration(5000); err != nil {
		t.Fatal(err)
	}
	if e.StepInterval() != before {
		t.Error("setter must not change the current interval")
	}

	clk.advance(before)
	if !e.Run() {
		t.Fatal("expected second step")
	}
	// 60 + 5000*0.016666 = 143.33 steps/s
	if got := e.CurrentSpeed(); got < 143 || got > 144 {
		t.Errorf("expected about 143.3 steps/s, got %v", got)
	}
}

// Polls slower than the step cadence get one pulse each, never a burst
// that catches up on the missed steps.
func TestSlowPollsEmitOnePulsePerPoll(t *testing.T) {
	e, clk, drv := newTestEngine()
	for _, set := range []func(float64) error{e.SetAcceleration, e.SetDeceleration} {
		if err := set(1e6); err != nil {
			t.Fatal(err)
		}
	}
	e.Enable()
	e.MoveRelative(20)

	for i := 1; i <= 20; i++ {
		if !e.Run() {
			t.Fatalf("poll %d: no pulse", i)
		}
		if drv.pulses != i {
			t.Fatalf("poll %d: %d pulses, want %d", i, drv.pulses, i)
		}
		if got := e.Snapshot().LastStepTime; got != clk.now {
			t.Fatalf("poll %d: last step time %d, want poll time %d", i, got, clk.now)
		}
		if i == 1 && e.StepInterval() != 1000 {
			t.Fatalf("cadence %d µs, want 1000", e.StepInterval())
		}
		clk.advance(50000)
	}
	if e.IsRunning() || e.CurrentPosition() != 20 {
		t.Errorf("ended at %d running=%v", e.CurrentPosition(), e.IsRunning())
	}
}

func TestMaxSpeedBelowClockResolution(t *testing.T) {
	e, clk, drv := newTestEngine()
	if err := e.SetMaxSpeed(0.0001); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("SetMaxSpeed(0.0001): got %v, want ErrInvalidLimit", err)
	}
	if e.MaxSpeed() != DefaultMaxSpeed {
		t.Errorf("rejected value applied: %v", e.MaxSpeed())
	}

	// The slowest accepted speed saturates the interval instead of wrapping
	if err := e.SetMaxSpeed(MinStepSpeed); err != nil {
		t.Fatal(err)
	}
	e.Enable()
	e.MoveRelative(3)
	if !e.Run() {
		t.Fatal("first step should be due immediately")
	}
	if e.StepInterval() != math.MaxUint32 {
		t.Errorf("interval %d, want %d", e.StepInterval(), uint32(math.MaxUint32))
	}
	clk.advance(1410065409)
	if e.Run() {
		t.Error("second step emitted early")
	}
	if drv.pulses != 1 {
		t.Errorf("%d pulses, want 1", drv.pulses)
	}
}

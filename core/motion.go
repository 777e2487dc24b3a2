package core

// Poll-driven trapezoidal motion engine for a single step/dir axis.
// Run() is cheap to over-invoke: stepping is gated by elapsed clock time,
// never by poll count, and nothing on the poll path allocates.

import (
	"math"

	"github.com/pkg/errors"
)

// Defaults applied by NewMotionEngine
const (
	DefaultMaxSpeed     = 1000.0 // steps/s
	DefaultAcceleration = 500.0  // steps/s^2
	DefaultDeceleration = 500.0  // steps/s^2
	DefaultStepsPerRev  = 200
)

// MotionState is a value snapshot of the engine, used for status reports
type MotionState struct {
	CurrentPosition int64
	TargetPosition  int64
	CurrentSpeed    float64
	MaxSpeed        float64
	Acceleration    float64
	Deceleration    float64
	StepInterval    uint32
	LastStepTime    uint32
	Enabled         bool
	Moving          bool
	Clockwise       bool
	Phase           Phase
}

// MotionEngine owns position, target, speed and step timing for one motor
type MotionEngine struct {
	OID uint8 // Object ID reported in timing events

	clock  Clock
	driver PulseDriver

	// Limits
	maxSpeed     float64
	acceleration float64
	deceleration float64

	// Geometry for angular moves
	stepsPerRev int
	gearRatio   float64

	// State
	position     int64   // Current position in steps (signed)
	target       int64   // Commanded destination in steps
	speed        float64 // Current speed magnitude (steps/s)
	stepInterval uint32  // µs between steps at speed
	lastStepTime uint32  // Clock value at the last emitted pulse
	enabled      bool
	moving       bool
	clockwise    bool
	dirValid     bool // false until the first direction write
	phase        Phase

	stepCount uint32 // Total pulses emitted, wraps
}

// NewMotionEngine creates a disabled engine at position 0
func NewMotionEngine(clock Clock, driver PulseDriver) *MotionEngine {
	return &MotionEngine{
		clock:        clock,
		driver:       driver,
		maxSpeed:     DefaultMaxSpeed,
		acceleration: DefaultAcceleration,
		deceleration: DefaultDeceleration,
		stepsPerRev:  DefaultStepsPerRev,
		gearRatio:    1,
		phase:        PhaseIdle,
	}
}

func validLimit(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// SetMaxSpeed sets the cruise speed limit in steps/s. It must be at least
// MinStepSpeed, since the floor speed can drop to the limit.
func (e *MotionEngine) SetMaxSpeed(v float64) error {
	if !validLimit(v) || v < MinStepSpeed {
		return errors.Wrapf(ErrInvalidLimit, "max speed %v", v)
	}
	e.maxSpeed = v
	return nil
}

// SetAcceleration sets the ramp-up rate in steps/s^2
func (e *MotionEngine) SetAcceleration(a float64) error {
	if !validLimit(a) {
		return errors.Wrapf(ErrInvalidLimit, "acceleration %v", a)
	}
	e.acceleration = a
	return nil
}

// SetDeceleration sets the ramp-down rate in steps/s^2
func (e *MotionEngine) SetDeceleration(d float64) error {
	if !validLimit(d) {
		return errors.Wrapf(ErrInvalidLimit, "deceleration %v", d)
	}
	e.deceleration = d
	return nil
}

// SetGeometry sets the steps per motor revolution and the output gear ratio
// used by Rotate and RotateRevolutions
func (e *MotionEngine) SetGeometry(stepsPerRev int, gearRatio float64) error {
	if stepsPerRev <= 0 {
		return errors.Wrapf(ErrInvalidGeometry, "steps per revolution %d", stepsPerRev)
	}
	if !validLimit(gearRatio) {
		return errors.Wrapf(ErrInvalidGeometry, "gear ratio %v", gearRatio)
	}
	e.stepsPerRev = stepsPerRev
	e.gearRatio = gearRatio
	return nil
}

// MoveTo sets a new absolute target. The current speed is kept so a target
// change mid-move is absorbed by the speed law.
func (e *MotionEngine) MoveTo(position int64) {
	e.target = position
	e.moving = true
	RecordTiming(EvtMove, e.OID, e.clock.NowMicros(), uint32(int32(position)), uint32(int32(position-e.position)))
}

// MoveRelative moves delta steps from the current position
func (e *MotionEngine) MoveRelative(delta int64) {
	e.MoveTo(e.position + delta)
}

// Rotate moves by an angle at the output shaft, truncated to whole steps
func (e *MotionEngine) Rotate(degrees float64) {
	e.MoveRelative(int64(degrees * float64(e.stepsPerRev) * e.gearRatio / 360))
}

// RotateRevolutions moves by n output shaft revolutions, truncated to whole steps
func (e *MotionEngine) RotateRevolutions(n float64) {
	e.MoveRelative(int64(n * float64(e.stepsPerRev) * e.gearRatio))
}

// Stop halts immediately without a deceleration ramp
func (e *MotionEngine) Stop() {
	e.target = e.position
	e.moving = false
	e.speed = 0
	e.stepInterval = 0
	e.setPhase(PhaseIdle)
	RecordTiming(EvtStop, e.OID, e.clock.NowMicros(), uint32(int32(e.position)), 0)
}

// EmergencyStop halts and removes power from the driver stage
func (e *MotionEngine) EmergencyStop() {
	e.Stop()
	e.Disable()
}

// Enable powers the driver stage; stored moves start on the next poll
func (e *MotionEngine) Enable() {
	e.enabled = true
	if en, ok := e.driver.(Enabler); ok {
		en.SetEnabled(true)
	}
}

// Disable removes power from the driver stage. Target and the moving flag
// are kept so a pending move resumes after Enable; until then the speed
// reads 0 even though the move is still pending, and it restarts from the
// floor on the first poll after Enable.
func (e *MotionEngine) Disable() {
	e.enabled = false
	e.speed = 0
	e.stepInterval = 0
	e.setPhase(PhaseIdle)
	if en, ok := e.driver.(Enabler); ok {
		en.SetEnabled(false)
	}
}

// SetHome redefines the current position as the origin
func (e *MotionEngine) SetHome() {
	e.position = 0
	e.target = 0
	RecordTiming(EvtHome, e.OID, e.clock.NowMicros(), 0, 0)
}

// GoHome moves to position 0
func (e *MotionEngine) GoHome() {
	e.MoveTo(0)
}

// Run is the poll operation. It emits at most one step pulse and reports
// whether it did.
func (e *MotionEngine) Run() bool {
	if !e.enabled || !e.moving {
		return false
	}

	distance := e.target - e.position
	if distance == 0 {
		e.finish()
		return false
	}

	now := e.clock.NowMicros()

	// Motion start: begin at the floor speed, first step due now
	if e.speed == 0 {
		e.speed = floorFor(e.maxSpeed)
		e.stepInterval = IntervalFromSpeed(e.speed)
		e.lastStepTime = now - e.stepInterval
	}

	if ElapsedMicros(now, e.lastStepTime) < e.stepInterval {
		return false
	}

	// The interval that just elapsed is the time term of the Euler update
	dt := float64(e.stepInterval) / MicrosPerSecond
	speed, phase := nextSpeed(e.speed, distance, dt, e.maxSpeed, e.acceleration, e.deceleration)
	e.speed = speed
	e.stepInterval = IntervalFromSpeed(speed)
	e.setPhase(phase)

	e.step(distance > 0)
	e.lastStepTime = now
	RecordTiming(EvtStep, e.OID, now, uint32(int32(e.position)), e.stepInterval)

	if e.position == e.target {
		e.finish()
	}
	return true
}

// step emits one pulse, writing the direction first when it changed
func (e *MotionEngine) step(clockwise bool) {
	if !e.dirValid || clockwise != e.clockwise {
		e.driver.SetDirection(clockwise)
		e.clockwise = clockwise
		e.dirValid = true
	}
	e.driver.EmitPulse()
	if clockwise {
		e.position++
	} else {
		e.position--
	}
	e.stepCount++
}

func (e *MotionEngine) finish() {
	e.moving = false
	e.speed = 0
	e.stepInterval = 0
	e.setPhase(PhaseIdle)
}

func (e *MotionEngine) setPhase(p Phase) {
	if p != e.phase {
		e.phase = p
		RecordTiming(EvtPhase, e.OID, e.lastStepTime, uint32(p), uint32(e.speed))
	}
}

// IsRunning returns true while a move is in progress with distance left
func (e *MotionEngine) IsRunning() bool {
	return e.moving && e.target != e.position
}

// DistanceToGo returns target minus current position
func (e *MotionEngine) DistanceToGo() int64 {
	return e.target - e.position
}

// CurrentPosition returns the absolute position in steps
func (e *MotionEngine) CurrentPosition() int64 {
	return e.position
}

// TargetPosition returns the commanded destination in steps
func (e *MotionEngine) TargetPosition() int64 {
	return e.target
}

// CurrentSpeed returns the commanded speed magnitude in steps/s
func (e *MotionEngine) CurrentSpeed() float64 {
	return e.speed
}

// StepInterval returns the µs between steps at the current speed
func (e *MotionEngine) StepInterval() uint32 {
	return e.stepInterval
}

// Phase returns the current trapezoid segment
func (e *MotionEngine) Phase() Phase {
	return e.phase
}

// IsEnabled reports whether the driver stage is powered
func (e *MotionEngine) IsEnabled() bool {
	return e.enabled
}

// Clockwise returns the last direction written to the driver
func (e *MotionEngine) Clockwise() bool {
	return e.clockwise
}

// MaxSpeed returns the configured speed limit
func (e *MotionEngine) MaxSpeed() float64 {
	return e.maxSpeed
}

// StepsPerRevolution returns the configured output steps per revolution
// including the gear ratio
func (e *MotionEngine) StepsPerRevolution() float64 {
	return float64(e.stepsPerRev) * e.gearRatio
}

// StepCount returns the number of pulses emitted since creation
func (e *MotionEngine) StepCount() uint32 {
	return e.stepCount
}

// Snapshot returns a copy of the engine state
func (e *MotionEngine) Snapshot() MotionState {
	return MotionState{
		CurrentPosition: e.position,
		TargetPosition:  e.target,
		CurrentSpeed:    e.speed,
		MaxSpeed:        e.maxSpeed,
		Acceleration:    e.acceleration,
		Deceleration:    e.deceleration,
		StepInterval:    e.stepInterval,
		LastStepTime:    e.lastStepTime,
		Enabled:         e.enabled,
		Moving:          e.moving,
		Clockwise:       e.clockwise,
		Phase:           e.phase,
	}
}

package standalone

import (
	"github.com/pkg/errors"

	"stepdrive/core"
)

// ErrUnsupported is returned for operations an axis backend cannot perform
var ErrUnsupported = errors.New("operation not supported by this axis")

// AxisStatus is a backend-neutral status report
type AxisStatus struct {
	Position  int64
	Target    int64
	Speed     float64 // steps/s
	Phase     core.Phase
	Enabled   bool
	Moving    bool
	Clockwise bool
	Homing    bool
}

// Axis is what the console drives: a local engine or firmware behind a
// serial link
type Axis interface {
	MoveTo(position int64) error
	MoveRelative(delta int64) error
	Rotate(degrees float64) error
	RotateRevolutions(n float64) error
	Stop() error
	EmergencyStop() error
	Enable() error
	Disable() error
	SetMaxSpeed(v float64) error
	SetAcceleration(a float64) error
	SetDeceleration(d float64) error
	SetHome() error
	GoHome() error
	Home() error
	Status() (AxisStatus, error)
}

// localAxis adapts an in-process engine and homing sequencer to Axis
type localAxis struct {
	engine *core.MotionEngine
	homing *core.Homing

	// timer sampling of the limit while homing, off when checkUs is 0
	endstop   *core.Endstop
	scheduler *core.Scheduler
	clock     core.Clock
	checkUs   uint32
	sampleUs  uint32
}

func (a *localAxis) MoveTo(position int64) error {
	a.engine.MoveTo(position)
	return nil
}

func (a *localAxis) MoveRelative(delta int64) error {
	a.engine.MoveRelative(delta)
	return nil
}

func (a *localAxis) Rotate(degrees float64) error {
	a.engine.Rotate(degrees)
	return nil
}

func (a *localAxis) RotateRevolutions(n float64) error {
	a.engine.RotateRevolutions(n)
	return nil
}

func (a *localAxis) Stop() error {
	a.abortHoming()
	a.engine.Stop()
	return nil
}

func (a *localAxis) EmergencyStop() error {
	a.abortHoming()
	a.engine.EmergencyStop()
	return nil
}

func (a *localAxis) Enable() error {
	a.engine.Enable()
	return nil
}

func (a *localAxis) Disable() error {
	a.engine.Disable()
	return nil
}

func (a *localAxis) SetMaxSpeed(v float64) error     { return a.engine.SetMaxSpeed(v) }
func (a *localAxis) SetAcceleration(v float64) error { return a.engine.SetAcceleration(v) }
func (a *localAxis) SetDeceleration(v float64) error { return a.engine.SetDeceleration(v) }

func (a *localAxis) SetHome() error {
	a.engine.SetHome()
	return nil
}

func (a *localAxis) GoHome() error {
	a.engine.GoHome()
	return nil
}

func (a *localAxis) Home() error {
	if a.homing == nil {
		return errors.Wrap(ErrUnsupported, "no limit sensor configured")
	}
	if err := a.homing.Start(); err != nil {
		return err
	}
	if a.checkUs > 0 {
		a.endstop.Arm(a.scheduler, a.clock.NowMicros(), a.sampleUs, a.checkUs)
	}
	return nil
}

func (a *localAxis) Status() (AxisStatus, error) {
	s := a.engine.Snapshot()
	return AxisStatus{
		Position:  s.CurrentPosition,
		Target:    s.TargetPosition,
		Speed:     s.CurrentSpeed,
		Phase:     s.Phase,
		Enabled:   s.Enabled,
		Moving:    a.engine.IsRunning(),
		Clockwise: s.Clockwise,
		Homing:    a.homing != nil && a.homing.Active(),
	}, nil
}

func (a *localAxis) abortHoming() {
	if a.homing != nil {
		a.homing.Abort()
		a.disarmLimit()
	}
}

func (a *localAxis) disarmLimit() {
	if a.checkUs > 0 && a.endstop.Armed() {
		a.endstop.Disarm(a.scheduler)
	}
}

// poll advances homing when active, the engine otherwise
func (a *localAxis) poll() bool {
	if a.homing != nil && a.homing.Active() {
		before := a.engine.StepCount()
		if a.homing.Poll() != core.HomingSeeking {
			a.disarmLimit()
		}
		return a.engine.StepCount() != before
	}
	return a.engine.Run()
}

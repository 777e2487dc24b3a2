package gcode

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"stepdrive/standalone"
)

// Action tells the runner what a command needs after it was issued
type Action struct {
	Wait   bool          // let the axis finish before the next line
	Dwell  time.Duration // pause after waiting
	Report string        // text for the operator
}

// Interpreter translates commands into axis calls. It keeps the modal
// state: absolute or relative X.
type Interpreter struct {
	axis     standalone.Axis
	relative bool
}

// NewInterpreter starts in absolute mode
func NewInterpreter(axis standalone.Axis) *Interpreter {
	return &Interpreter{axis: axis}
}

// Relative reports whether G91 is in effect
func (in *Interpreter) Relative() bool {
	return in.relative
}

// Execute issues one command. Motion is only started; the returned Action
// says whether to wait for it.
func (in *Interpreter) Execute(cmd Command) (Action, error) {
	switch cmd.Letter {
	case 0:
		return Action{}, nil
	case 'G':
		return in.executeG(cmd)
	case 'M':
		return in.executeM(cmd)
	}
	return Action{}, errors.Wrap(ErrUnsupported, cmd.Code())
}

func (in *Interpreter) executeG(cmd Command) (Action, error) {
	switch cmd.Number {
	case 0, 1:
		return in.linearMove(cmd)
	case 4:
		d := time.Duration(cmd.Get('P', 0) * float64(time.Millisecond))
		if cmd.Has('S') {
			d = time.Duration(cmd.Get('S', 0) * float64(time.Second))
		}
		if d < 0 {
			return Action{}, errors.Wrapf(ErrSyntax, "negative dwell %v", d)
		}
		return Action{Wait: true, Dwell: d}, nil
	case 28:
		return Action{Wait: true}, in.axis.Home()
	case 90:
		in.relative = false
		return Action{}, nil
	case 91:
		in.relative = true
		return Action{}, nil
	case 92:
		if cmd.Get('X', 0) != 0 {
			return Action{}, errors.Wrap(ErrUnsupported, "G92 to a nonzero position")
		}
		return Action{}, in.axis.SetHome()
	}
	return Action{}, errors.Wrap(ErrUnsupported, cmd.Code())
}

func (in *Interpreter) linearMove(cmd Command) (Action, error) {
	if cmd.Has('F') {
		// steps/min to steps/s
		if err := in.axis.SetMaxSpeed(cmd.Get('F', 0) / 60); err != nil {
			return Action{}, err
		}
	}

	switch {
	case cmd.Has('X') && cmd.Has('A'):
		return Action{}, errors.Wrap(ErrSyntax, "X and A in one move")
	case cmd.Has('X'):
		steps, err := toSteps(cmd.Get('X', 0))
		if err != nil {
			return Action{}, err
		}
		if in.relative {
			return Action{Wait: true}, in.axis.MoveRelative(steps)
		}
		return Action{Wait: true}, in.axis.MoveTo(steps)
	case cmd.Has('A'):
		return Action{Wait: true}, in.axis.Rotate(cmd.Get('A', 0))
	}
	return Action{}, nil
}

func toSteps(v float64) (int64, error) {
	r := math.Round(v)
	if math.IsNaN(r) || math.Abs(r) > 1<<53 {
		return 0, errors.Wrapf(ErrSyntax, "X%v", v)
	}
	return int64(r), nil
}

func (in *Interpreter) executeM(cmd Command) (Action, error) {
	switch cmd.Number {
	case 17:
		return Action{}, in.axis.Enable()
	case 18, 84:
		return Action{}, in.axis.Disable()
	case 112:
		return Action{}, in.axis.EmergencyStop()
	case 114:
		s, err := in.axis.Status()
		if err != nil {
			return Action{}, err
		}
		return Action{Report: standalone.FormatStatus(s)}, nil
	case 201:
		return Action{}, in.setLimit(cmd, in.axis.SetAcceleration)
	case 202:
		return Action{}, in.setLimit(cmd, in.axis.SetDeceleration)
	case 203:
		return Action{}, in.setLimit(cmd, in.axis.SetMaxSpeed)
	case 400:
		return Action{Wait: true}, nil
	case 410:
		return Action{}, in.axis.Stop()
	}
	return Action{}, errors.Wrap(ErrUnsupported, cmd.Code())
}

func (in *Interpreter) setLimit(cmd Command, set func(float64) error) error {
	if !cmd.Has('X') {
		return errors.Wrapf(ErrSyntax, "%s needs X", cmd.Code())
	}
	return set(cmd.Get('X', 0))
}

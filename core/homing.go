package core

import "github.com/pkg/errors"

// HomingState is the calibration sequence position
type HomingState uint8

const (
	HomingIdle HomingState = iota
	HomingSeeking
	HomingBackingOff
	HomingDone
	HomingFailed
)

func (s HomingState) String() string {
	switch s {
	case HomingIdle:
		return "idle"
	case HomingSeeking:
		return "seeking"
	case HomingBackingOff:
		return "backing-off"
	case HomingDone:
		return "done"
	case HomingFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HomingConfig parameterizes the calibration move
type HomingConfig struct {
	SeekSpeed float64 // Reduced max speed while seeking (steps/s)
	MaxTravel int64   // Steps to travel toward negative before giving up
	Backoff   int64   // Steps to move away from the switch after zeroing
}

// Homing drives an engine toward the negative limit, zeroes position on
// trigger and backs off. It is poll-driven like the engine: Poll never
// blocks, so the caller owns the loop and any timeout.
type Homing struct {
	engine *MotionEngine
	sensor LimitSensor
	cfg    HomingConfig

	state         HomingState
	savedMaxSpeed float64
	err           error
}

// NewHoming creates an idle homing sequence
func NewHoming(engine *MotionEngine, sensor LimitSensor, cfg HomingConfig) *Homing {
	return &Homing{
		engine: engine,
		sensor: sensor,
		cfg:    cfg,
	}
}

// Start begins seeking. The engine is enabled and its max speed is reduced
// to the seek speed until the sequence ends.
func (h *Homing) Start() error {
	if h.Active() {
		return ErrHomingBusy
	}
	if h.cfg.MaxTravel <= 0 {
		return errors.Wrapf(ErrInvalidGeometry, "homing max travel %d", h.cfg.MaxTravel)
	}

	h.savedMaxSpeed = h.engine.MaxSpeed()
	if err := h.engine.SetMaxSpeed(h.cfg.SeekSpeed); err != nil {
		return errors.Wrap(err, "homing seek speed")
	}

	if r, ok := h.sensor.(interface{ Reset() }); ok {
		// Clear a trigger latched by the previous sequence
		r.Reset()
	}
	h.err = nil
	h.engine.Stop()
	h.engine.Enable()
	h.engine.MoveRelative(-h.cfg.MaxTravel)
	h.state = HomingSeeking
	return nil
}

// Poll advances the sequence by one engine poll
func (h *Homing) Poll() HomingState {
	if h.Active() && !h.engine.IsEnabled() {
		h.engine.Stop()
		h.finish(HomingFailed, errors.New("homing: engine disabled"))
		return h.state
	}

	switch h.state {
	case HomingSeeking:
		if h.sensor.IsTriggered() {
			h.engine.Stop()
			h.engine.SetHome()
			h.engine.MoveTo(h.cfg.Backoff)
			h.state = HomingBackingOff
			return h.state
		}
		h.engine.Run()
		if !h.engine.IsRunning() {
			h.finish(HomingFailed, ErrHomingFailed)
		}

	case HomingBackingOff:
		h.engine.Run()
		if !h.engine.IsRunning() {
			h.finish(HomingDone, nil)
		}
	}
	return h.state
}

// Abort stops the engine and ends the sequence as failed
func (h *Homing) Abort() {
	if !h.Active() {
		return
	}
	h.engine.Stop()
	h.finish(HomingFailed, errors.New("homing aborted"))
}

// finish ends the sequence. The saved max speed comes back only if nobody
// changed the seek speed meanwhile; an operator's new limit wins.
func (h *Homing) finish(state HomingState, err error) {
	if h.engine.MaxSpeed() == h.cfg.SeekSpeed {
		// accepted by the engine before, it cannot fail
		_ = h.engine.SetMaxSpeed(h.savedMaxSpeed)
	}
	h.state = state
	h.err = err
}

// State returns the current sequence state
func (h *Homing) State() HomingState {
	return h.state
}

// Active reports whether the sequence is seeking or backing off
func (h *Homing) Active() bool {
	return h.state == HomingSeeking || h.state == HomingBackingOff
}

// Err returns why the last sequence failed, nil otherwise
func (h *Homing) Err() error {
	return h.err
}

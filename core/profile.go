package core

// FloorSpeed is the lowest commanded speed while a move is in progress
// (steps/s). Cadences below this stall or resonate on most motors.
const FloorSpeed = 50.0

// Phase is the trapezoid segment the engine is currently in
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseAccelerating
	PhaseCruising
	PhaseDecelerating
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccelerating:
		return "accelerating"
	case PhaseCruising:
		return "cruising"
	case PhaseDecelerating:
		return "decelerating"
	default:
		return "unknown"
	}
}

// floorFor clamps the floor speed to a max speed configured below it
func floorFor(maxSpeed float64) float64 {
	if maxSpeed < FloorSpeed {
		return maxSpeed
	}
	return FloorSpeed
}

// BrakingDistance returns the steps needed to slow from speed to zero
func BrakingDistance(speed, deceleration float64) float64 {
	return speed * speed / (2 * deceleration)
}

// nextSpeed applies one Euler step of the trapezoid law.
// dt is the duration of the previous step interval in seconds.
func nextSpeed(speed float64, distance int64, dt, maxSpeed, accel, decel float64) (float64, Phase) {
	floor := floorFor(maxSpeed)
	if distance < 0 {
		distance = -distance
	}

	if float64(distance) <= BrakingDistance(speed, decel) {
		speed -= decel * dt
		if speed < floor {
			speed = floor
		}
		return speed, PhaseDecelerating
	}

	speed += accel * dt
	if speed < floor {
		speed = floor
	}
	if speed >= maxSpeed {
		return maxSpeed, PhaseCruising
	}
	return speed, PhaseAccelerating
}

package core

import "github.com/pkg/errors"

var (
	// ErrInvalidLimit is returned by the speed/acceleration setters for
	// non-positive, NaN or infinite values
	ErrInvalidLimit = errors.New("motion limit must be a positive finite number")

	// ErrInvalidGeometry is returned for non-positive steps/rev or gear ratio
	ErrInvalidGeometry = errors.New("invalid step geometry")

	// ErrUnknownMotor is returned by the step geometry lookups
	ErrUnknownMotor = errors.New("unknown motor family or step mode")

	// ErrHomingFailed is reported when the seek exhausts its travel without
	// the limit sensor triggering
	ErrHomingFailed = errors.New("homing: limit not found within max travel")

	// ErrHomingBusy is returned when Start is called on a running sequence
	ErrHomingBusy = errors.New("homing: sequence already running")
)

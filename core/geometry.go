package core

import (
	"strings"

	"github.com/pkg/errors"
)

// MotorFamily identifies a stepper motor by its full-step count
type MotorFamily uint8

const (
	MotorNEMA14 MotorFamily = iota
	MotorNEMA17
	MotorNEMA17HighRes // 0.9° per step
	MotorNEMA23
	Motor28BYJ48 // 64:1 geared unipolar
)

// StepMode is the driver microstepping setting
type StepMode uint8

const (
	StepFull StepMode = iota
	StepHalf
	StepQuarter
	StepEighth
	StepSixteenth
)

var fullStepsPerRev = [...]int{
	MotorNEMA14:        200,
	MotorNEMA17:        200,
	MotorNEMA17HighRes: 400,
	MotorNEMA23:        200,
	Motor28BYJ48:       2048,
}

var motorNames = map[string]MotorFamily{
	"nema14":     MotorNEMA14,
	"nema17":     MotorNEMA17,
	"nema17-0.9": MotorNEMA17HighRes,
	"nema23":     MotorNEMA23,
	"28byj-48":   Motor28BYJ48,
}

var stepModeNames = map[string]StepMode{
	"full":      StepFull,
	"half":      StepHalf,
	"quarter":   StepQuarter,
	"eighth":    StepEighth,
	"sixteenth": StepSixteenth,
}

// Microsteps returns the number of microsteps per full step
func (m StepMode) Microsteps() int {
	return 1 << m
}

func (m StepMode) String() string {
	for name, mode := range stepModeNames {
		if mode == m {
			return name
		}
	}
	return "unknown"
}

func (f MotorFamily) String() string {
	for name, family := range motorNames {
		if family == f {
			return name
		}
	}
	return "unknown"
}

// StepsPerRevolution looks up the microsteps per shaft revolution
func StepsPerRevolution(family MotorFamily, mode StepMode) (int, error) {
	if int(family) >= len(fullStepsPerRev) || mode > StepSixteenth {
		return 0, errors.Wrapf(ErrUnknownMotor, "family %d mode %d", family, mode)
	}
	return fullStepsPerRev[family] * mode.Microsteps(), nil
}

// ParseMotorFamily parses a config name such as "nema17"
func ParseMotorFamily(name string) (MotorFamily, error) {
	f, ok := motorNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownMotor, "motor %q", name)
	}
	return f, nil
}

// ParseStepMode parses a config name such as "quarter"
func ParseStepMode(name string) (StepMode, error) {
	m, ok := stepModeNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownMotor, "step mode %q", name)
	}
	return m, nil
}

// Package motor defines the contract between the arm and the stepper drivers that turn its axes.
//
// A Driver counts position in signed microsteps. Positive steps turn the output
// shaft clockwise as seen by the driver; any mounting reversal is handled above
// this layer.
package motor

import (
	"context"
	"fmt"
)

// A Driver is a position-controlled stepper driver. It owns the step counter and
// moves toward the last target it was given.
type Driver interface {
	// SetTargetPosition starts moving toward steps. A new target replaces the old one.
	SetTargetPosition(ctx context.Context, steps int64) error
	// TargetPosition returns the last commanded target.
	TargetPosition(ctx context.Context) (int64, error)
	// CurrentPosition returns the step counter.
	CurrentPosition(ctx context.Context) (int64, error)
	// HaltAndSetPosition stops abruptly and redefines the current position as steps.
	HaltAndSetPosition(ctx context.Context, steps int64) error

	// SetMaxSpeed sets the speed limit in microsteps per second.
	SetMaxSpeed(ctx context.Context, stepsPerSec float64) error
	// SetMaxAcceleration sets the acceleration limit in microsteps per second squared.
	SetMaxAcceleration(ctx context.Context, stepsPerSec2 float64) error
	// SetMaxDeceleration sets the deceleration limit in microsteps per second squared.
	SetMaxDeceleration(ctx context.Context, stepsPerSec2 float64) error

	Energize(ctx context.Context) error
	Deenergize(ctx context.Context) error
	// ExitSafeStart clears the driver's safe start latch so queued motion may run.
	ExitSafeStart(ctx context.Context) error
}

// StepModeSetter is implemented by drivers with a configurable microstep resolution.
type StepModeSetter interface {
	SetStepMode(ctx context.Context, mode StepMode) error
}

// CurrentLimitSetter is implemented by drivers with a configurable coil current limit.
// The code is driver specific.
type CurrentLimitSetter interface {
	SetCurrentLimit(ctx context.Context, code uint8) error
}

// Closer is implemented by drivers holding a resource that must be released.
type Closer interface {
	Close(ctx context.Context) error
}

// StepMode is a microstep resolution. Its value is the wire code, the divisor is 2^code.
type StepMode uint8

// Supported step modes.
const (
	StepModeFull StepMode = iota
	StepModeHalf
	StepMode4
	StepMode8
	StepMode16
	StepMode32
	StepMode64
)

// Divisor is the number of microsteps per full step.
func (m StepMode) Divisor() int {
	return 1 << m
}

// Code is the value sent to the driver.
func (m StepMode) Code() uint8 {
	return uint8(m)
}

// Validate returns an error for codes past StepMode64.
func (m StepMode) Validate() error {
	if m > StepMode64 {
		return NewUnsupportedStepModeError(int(m))
	}
	return nil
}

func (m StepMode) String() string {
	if m == StepModeFull {
		return "full step"
	}
	return fmt.Sprintf("1/%d step", m.Divisor())
}

// StepModeFromDivisor maps 1, 2, 4, ... 64 to its StepMode.
func StepModeFromDivisor(divisor int) (StepMode, error) {
	for m := StepModeFull; m <= StepMode64; m++ {
		if m.Divisor() == divisor {
			return m, nil
		}
	}
	return 0, NewUnsupportedStepDivisorError(divisor)
}

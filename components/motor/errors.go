package motor

import "github.com/pkg/errors"

// NewUnsupportedStepModeError returns an error for an unknown step mode code.
func NewUnsupportedStepModeError(code int) error {
	return errors.Errorf("step mode code %d is not supported, must be between 0 and %d", code, int(StepMode64))
}

// NewUnsupportedStepDivisorError returns an error for a microstep divisor that is not a power of two up to 64.
func NewUnsupportedStepDivisorError(divisor int) error {
	return errors.Errorf("microstep divisor %d is not supported, must be one of 1, 2, 4, 8, 16, 32, 64", divisor)
}

package motor

import (
	"testing"

	"go.viam.com/test"
)

func TestStepMode(t *testing.T) {
	for i, divisor := range []int{1, 2, 4, 8, 16, 32, 64} {
		m, err := StepModeFromDivisor(divisor)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.Code(), test.ShouldEqual, uint8(i))
		test.That(t, m.Divisor(), test.ShouldEqual, divisor)
		test.That(t, m.Validate(), test.ShouldBeNil)
	}

	_, err := StepModeFromDivisor(3)
	test.That(t, err, test.ShouldBeError, NewUnsupportedStepDivisorError(3))
	test.That(t, StepMode(7).Validate(), test.ShouldBeError, NewUnsupportedStepModeError(7))

	test.That(t, StepModeFull.String(), test.ShouldEqual, "full step")
	test.That(t, StepMode4.String(), test.ShouldEqual, "1/4 step")
}

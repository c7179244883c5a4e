package units

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestLengthConversion(t *testing.T) {
	l := 85 * Millimeter
	test.That(t, l.Millimeters(), test.ShouldEqual, 85)
	test.That(t, l.In(Centimeter), test.ShouldAlmostEqual, 8.5)
	test.That(t, (2 * Inch).In(Millimeter), test.ShouldAlmostEqual, 50.8)
	test.That(t, Meter.In(Millimeter), test.ShouldEqual, 1000)
	test.That(t, (-3 * Millimeter).Abs(), test.ShouldEqual, 3*Millimeter)
}

func TestAngleConversion(t *testing.T) {
	test.That(t, (180 * Degree).Radians(), test.ShouldAlmostEqual, math.Pi)
	test.That(t, Angle(math.Pi/2).Degrees(), test.ShouldAlmostEqual, 90)
	test.That(t, (90 * Degree).In(Revolution), test.ShouldAlmostEqual, 0.25)

	t.Run("normalized", func(t *testing.T) {
		test.That(t, (270 * Degree).Normalized().Degrees(), test.ShouldAlmostEqual, -90)
		test.That(t, (-190 * Degree).Normalized().Degrees(), test.ShouldAlmostEqual, 170)
	})

	t.Run("positive", func(t *testing.T) {
		test.That(t, (-90 * Degree).Positive().Degrees(), test.ShouldAlmostEqual, 270)
		test.That(t, (720 * Degree).Positive().Degrees(), test.ShouldAlmostEqual, 0)
		for _, deg := range []float64{-1e-14, -720, 359.9999999, 1e6} {
			p := (Angle(deg) * Degree).Positive()
			test.That(t, p.Radians(), test.ShouldBeGreaterThanOrEqualTo, 0.0)
			test.That(t, p.Radians(), test.ShouldBeLessThan, 2*math.Pi)
		}
	})
}

func TestPosition(t *testing.T) {
	p := NewPosition(1, 2, Centimeter)
	test.That(t, p.X, test.ShouldEqual, 10*Millimeter)
	test.That(t, p.Y, test.ShouldEqual, 20*Millimeter)

	back := PositionFromR2(p.R2())
	test.That(t, back, test.ShouldResemble, p)

	test.That(t, Position{}.DistanceTo(NewPosition(3, 4, Millimeter)), test.ShouldAlmostEqual, 5*Millimeter)

	x, y := p.In(Centimeter)
	test.That(t, x, test.ShouldAlmostEqual, 1)
	test.That(t, y, test.ShouldAlmostEqual, 2)
}

func TestParseUnits(t *testing.T) {
	l, err := ParseLengthUnit("in")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, Inch)

	l, err = ParseLengthUnit("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, Millimeter)

	_, err = ParseLengthUnit("furlong")
	test.That(t, err, test.ShouldNotBeNil)

	a, err := ParseAngleUnit("RAD")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldEqual, Radian)

	_, err = ParseAngleUnit("grad")
	test.That(t, err, test.ShouldBeError, `unknown angle unit "grad"`)
}

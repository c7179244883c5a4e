// Package units defines unit-tagged physical quantities for the arm.
//
// Lengths are stored in millimeters and angles in radians. Values only cross
// into plain float64 through an explicit unit, in the same manner as
// time.Duration:
//
//	l := 85 * units.Millimeter
//	inches := l.In(units.Inch)
//
// Length and Angle are distinct types, so adding an angle to a length does not
// compile.
package units

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
)

// Length is a distance stored in millimeters.
type Length float64

// Common length units.
const (
	Millimeter Length = 1
	Centimeter        = 10 * Millimeter
	Meter             = 1000 * Millimeter
	Inch              = 25.4 * Millimeter
)

// Millimeters returns the length as a number of millimeters.
func (l Length) Millimeters() float64 {
	return float64(l)
}

// In returns the length as a multiple of unit.
func (l Length) In(unit Length) float64 {
	return float64(l / unit)
}

// Abs returns the absolute value of the length.
func (l Length) Abs() Length {
	return Length(math.Abs(float64(l)))
}

func (l Length) String() string {
	return fmt.Sprintf("%.3fmm", float64(l))
}

// Angle is a rotation stored in radians.
type Angle float64

// Common angle units.
const (
	Radian     Angle = 1
	Degree           = (math.Pi / 180) * Radian
	Revolution       = 2 * math.Pi * Radian
)

// Radians returns the angle in radians.
func (a Angle) Radians() float64 {
	return float64(a)
}

// Degrees returns the angle in degrees.
func (a Angle) Degrees() float64 {
	return float64(a / Degree)
}

// In returns the angle as a multiple of unit.
func (a Angle) In(unit Angle) float64 {
	return float64(a / unit)
}

// Abs returns the absolute value of the angle.
func (a Angle) Abs() Angle {
	return Angle(math.Abs(float64(a)))
}

// Normalized returns an equivalent angle in (-π, π].
func (a Angle) Normalized() Angle {
	return Angle(s1.Angle(a).Normalized())
}

// Positive returns an equivalent angle in [0, 2π).
func (a Angle) Positive() Angle {
	p := math.Mod(float64(a), 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	if p >= 2*math.Pi {
		p = 0
	}
	return Angle(p)
}

func (a Angle) String() string {
	return fmt.Sprintf("%.3fdeg", a.Degrees())
}

// Position is a point in the arm plane.
type Position struct {
	X, Y Length
}

// NewPosition returns the position (x, y) expressed in unit.
func NewPosition(x, y float64, unit Length) Position {
	return Position{X: Length(x) * unit, Y: Length(y) * unit}
}

// PositionFromR2 converts a point in millimeters to a Position.
func PositionFromR2(p r2.Point) Position {
	return Position{X: Length(p.X), Y: Length(p.Y)}
}

// R2 returns the position as a point in millimeters.
func (p Position) R2() r2.Point {
	return r2.Point{X: float64(p.X), Y: float64(p.Y)}
}

// Add returns p+o.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y}
}

// DistanceTo returns the euclidean distance between p and o.
func (p Position) DistanceTo(o Position) Length {
	return Length(p.R2().Sub(o.R2()).Norm())
}

// In returns the coordinates as multiples of unit.
func (p Position) In(unit Length) (float64, float64) {
	return p.X.In(unit), p.Y.In(unit)
}

func (p Position) String() string {
	return fmt.Sprintf("(%.3f, %.3f)mm", float64(p.X), float64(p.Y))
}

// ParseLengthUnit returns the unit named by s. The empty string is millimeters.
func ParseLengthUnit(s string) (Length, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mm", "millimeter", "millimeters":
		return Millimeter, nil
	case "cm", "centimeter", "centimeters":
		return Centimeter, nil
	case "m", "meter", "meters":
		return Meter, nil
	case "in", "inch", "inches":
		return Inch, nil
	default:
		return 0, errors.Errorf("unknown length unit %q", s)
	}
}

// ParseAngleUnit returns the unit named by s. The empty string is degrees.
func ParseAngleUnit(s string) (Angle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deg", "degree", "degrees":
		return Degree, nil
	case "rad", "radian", "radians":
		return Radian, nil
	case "rev", "revolution", "revolutions":
		return Revolution, nil
	default:
		return 0, errors.Errorf("unknown angle unit %q", s)
	}
}

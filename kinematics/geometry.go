package kinematics

import (
	"github.com/pkg/errors"

	"go.viam.com/parascara/units"
)

// Geometry holds the fixed link lengths of a five-bar arm. The left motor sits at
// the origin and the right motor at (AxisDistance, 0).
type Geometry struct {
	LeftBase     units.Length
	RightBase    units.Length
	LeftLink     units.Length
	RightLink    units.Length
	AxisDistance units.Length
}

// NewGeometry builds a Geometry from lengths expressed in unit.
func NewGeometry(unit units.Length, leftBase, rightBase, leftLink, rightLink, axisDistance float64) Geometry {
	return Geometry{
		LeftBase:     units.Length(leftBase) * unit,
		RightBase:    units.Length(rightBase) * unit,
		LeftLink:     units.Length(leftLink) * unit,
		RightLink:    units.Length(rightLink) * unit,
		AxisDistance: units.Length(axisDistance) * unit,
	}
}

// Validate ensures every length is strictly positive.
func (g Geometry) Validate() error {
	for _, l := range []struct {
		name string
		val  units.Length
	}{
		{"left_base", g.LeftBase},
		{"right_base", g.RightBase},
		{"left_link", g.LeftLink},
		{"right_link", g.RightLink},
		{"axis_distance", g.AxisDistance},
	} {
		if !(l.val > 0) {
			return errors.Wrapf(ErrInvalidGeometry, "%s must be greater than zero, got %v", l.name, l.val)
		}
	}
	return nil
}

// LeftOrigin is the position of the left motor axis.
func (g Geometry) LeftOrigin() units.Position {
	return units.Position{}
}

// RightOrigin is the position of the right motor axis.
func (g Geometry) RightOrigin() units.Position {
	return units.Position{X: g.AxisDistance}
}

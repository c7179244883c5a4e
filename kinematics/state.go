package kinematics

import (
	"fmt"

	"go.viam.com/parascara/units"
)

// ArmState is one complete pose of the arm.
// Base angles are measured at the motor axes. Link angles are the absolute
// direction of each link from its base endpoint toward the end effector.
type ArmState struct {
	EndEffector    units.Position
	LeftBaseEnd    units.Position
	RightBaseEnd   units.Position
	LeftBaseAngle  units.Angle
	RightBaseAngle units.Angle
	LeftLinkAngle  units.Angle
	RightLinkAngle units.Angle
}

// StateValues is an ArmState rendered as plain numbers in a chosen pair of units.
type StateValues struct {
	X, Y                   float64
	LeftBaseX, LeftBaseY   float64
	RightBaseX, RightBaseY float64
	LeftBaseAngle          float64
	RightBaseAngle         float64
	LeftLinkAngle          float64
	RightLinkAngle         float64
}

// In converts the state to numbers in the given units. The state is not modified.
func (s ArmState) In(lengthUnit units.Length, angleUnit units.Angle) StateValues {
	var v StateValues
	v.X, v.Y = s.EndEffector.In(lengthUnit)
	v.LeftBaseX, v.LeftBaseY = s.LeftBaseEnd.In(lengthUnit)
	v.RightBaseX, v.RightBaseY = s.RightBaseEnd.In(lengthUnit)
	v.LeftBaseAngle = s.LeftBaseAngle.In(angleUnit)
	v.RightBaseAngle = s.RightBaseAngle.In(angleUnit)
	v.LeftLinkAngle = s.LeftLinkAngle.In(angleUnit)
	v.RightLinkAngle = s.RightLinkAngle.In(angleUnit)
	return v
}

func (s ArmState) String() string {
	return fmt.Sprintf("effector %v base angles (%v, %v)", s.EndEffector, s.LeftBaseAngle, s.RightBaseAngle)
}

// Package kinematics solves the forward and inverse kinematics of a planar
// five-bar (parallel SCARA) arm.
//
// The two motors sit on the x axis, the left one at the origin and the right
// one at (AxisDistance, 0). Each motor turns a base link, and the two distal
// links meet at the end effector. Angles grow counter-clockwise from +x.
package kinematics

import (
	"math"

	"github.com/golang/geo/r2"

	"go.viam.com/parascara/units"
	"go.viam.com/parascara/utils"
)

// distances at or below this many millimeters are treated as zero.
const degenerateEpsilon = 1e-9

// Solver computes arm states for a fixed geometry. It holds no mutable state and
// is safe for concurrent use.
type Solver struct {
	geometry Geometry
}

// NewSolver returns a solver for g.
func NewSolver(g Geometry) (*Solver, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Solver{geometry: g}, nil
}

// Geometry returns the geometry the solver was built with.
func (s *Solver) Geometry() Geometry {
	return s.geometry
}

// SolveInverse returns one arm state per requested mode that places the end
// effector at pos, in the order the modes were given. With no modes the
// default "+-" branch is used. Modes are validated before reachability.
func (s *Solver) SolveInverse(pos units.Position, modes ...InverseMode) ([]ArmState, error) {
	if len(modes) == 0 {
		modes = []InverseMode{DefaultInverseMode}
	}
	for _, m := range modes {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	p := pos.R2()
	leftVec := p.Sub(s.geometry.LeftOrigin().R2())
	rightVec := p.Sub(s.geometry.RightOrigin().R2())

	gamma, err := elbowOffset("left", pos, leftVec, s.geometry.LeftBase, s.geometry.LeftLink)
	if err != nil {
		return nil, err
	}
	epsilon, err := elbowOffset("right", pos, rightVec, s.geometry.RightBase, s.geometry.RightLink)
	if err != nil {
		return nil, err
	}

	leftHeading := math.Atan2(leftVec.Y, leftVec.X)
	rightHeading := math.Atan2(rightVec.Y, rightVec.X)

	states := make([]ArmState, 0, len(modes))
	for _, m := range modes {
		leftSign, rightSign := m.signs()
		q1 := units.Angle(leftHeading + leftSign*gamma).Positive()
		q2 := units.Angle(rightHeading + rightSign*epsilon).Positive()
		states = append(states, s.newState(p, q1, q2))
	}
	return states, nil
}

// elbowOffset applies the cosine rule to the triangle formed by a motor origin,
// its base endpoint, and the target. It returns the angle at the motor between
// the base link and the line to the target.
func elbowOffset(side string, pos units.Position, toTarget r2.Point, base, link units.Length) (float64, error) {
	reach := toTarget.Norm()
	b, l := base.Millimeters(), link.Millimeters()
	minReach, maxReach := math.Abs(b-l), b+l
	// written positively so NaN and infinite targets are unreachable too
	if !(reach > degenerateEpsilon && reach >= minReach && reach <= maxReach) {
		return 0, NewUnreachableTargetError(
			side, pos, units.Length(reach), units.Length(minReach), units.Length(maxReach))
	}
	cos := (b*b + reach*reach - l*l) / (2 * b * reach)
	// rounding at the edge of the annulus can push cos a hair past ±1
	return math.Acos(utils.Clamp(cos, -1, 1)), nil
}

// SolveForward returns the end effector positions reachable with the given base
// angles, selected and ordered by mode. A pose where the distal links cannot
// meet yields an empty slice and no error.
func (s *Solver) SolveForward(left, right units.Angle, mode ForwardMode) ([]ArmState, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	leftEnd := s.baseEnd(s.geometry.LeftOrigin(), s.geometry.LeftBase, left)
	rightEnd := s.baseEnd(s.geometry.RightOrigin(), s.geometry.RightBase, right)

	candidates := intersectCircles(leftEnd, s.geometry.LeftLink.Millimeters(), rightEnd, s.geometry.RightLink.Millimeters())
	states := make([]ArmState, 0, len(mode))
	switch len(candidates) {
	case 0:
		return states, nil
	case 1:
		return append(states, s.newState(candidates[0], left.Positive(), right.Positive())), nil
	}

	inward, outward := candidates[0], candidates[1]
	if openingAngle(inward, leftEnd, rightEnd) > openingAngle(outward, leftEnd, rightEnd) {
		inward, outward = outward, inward
	}
	for _, c := range mode {
		effector := outward
		if c == 'i' {
			effector = inward
		}
		states = append(states, s.newState(effector, left.Positive(), right.Positive()))
	}
	return states, nil
}

// intersectCircles returns the intersection points of two circles. Tangent
// circles produce a single point.
func intersectCircles(c1 r2.Point, r1 float64, c2 r2.Point, r2len float64) []r2.Point {
	between := c2.Sub(c1)
	dist := between.Norm()
	if !(dist > degenerateEpsilon && dist <= r1+r2len+degenerateEpsilon && dist >= math.Abs(r1-r2len)-degenerateEpsilon) {
		return nil
	}

	// distance from c1 along the center line to the chord through both intersections
	along := (r1*r1 - r2len*r2len + dist*dist) / (2 * dist)
	halfChord := math.Sqrt(math.Max(r1*r1-along*along, 0))
	mid := c1.Add(between.Mul(along / dist))
	if utils.Float64AlmostEqual(halfChord, 0, degenerateEpsilon) {
		return []r2.Point{mid}
	}
	offset := between.Ortho().Mul(halfChord / dist)
	return []r2.Point{mid.Add(offset), mid.Sub(offset)}
}

// openingAngle is the counter-clockwise angle at effector from the right link to
// the left link, in [0, 2π). For an arm working above its base line the outward
// pose opens wider than π.
func openingAngle(effector, leftEnd, rightEnd r2.Point) units.Angle {
	toRight := rightEnd.Sub(effector)
	toLeft := leftEnd.Sub(effector)
	return units.Angle(math.Atan2(toRight.Cross(toLeft), toRight.Dot(toLeft))).Positive()
}

func (s *Solver) baseEnd(origin units.Position, base units.Length, angle units.Angle) r2.Point {
	return origin.R2().Add(r2.Point{X: math.Cos(angle.Radians()), Y: math.Sin(angle.Radians())}.Mul(base.Millimeters()))
}

func (s *Solver) newState(effector r2.Point, left, right units.Angle) ArmState {
	leftEnd := s.baseEnd(s.geometry.LeftOrigin(), s.geometry.LeftBase, left)
	rightEnd := s.baseEnd(s.geometry.RightOrigin(), s.geometry.RightBase, right)
	leftLink := effector.Sub(leftEnd)
	rightLink := effector.Sub(rightEnd)
	return ArmState{
		EndEffector:    units.PositionFromR2(effector),
		LeftBaseEnd:    units.PositionFromR2(leftEnd),
		RightBaseEnd:   units.PositionFromR2(rightEnd),
		LeftBaseAngle:  left,
		RightBaseAngle: right,
		LeftLinkAngle:  units.Angle(math.Atan2(leftLink.Y, leftLink.X)).Positive(),
		RightLinkAngle: units.Angle(math.Atan2(rightLink.Y, rightLink.X)).Positive(),
	}
}

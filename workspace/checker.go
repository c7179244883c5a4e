// Package workspace decides whether arm poses and target positions are safe to move to.
package workspace

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/parascara/kinematics"
	"go.viam.com/parascara/logging"
	"go.viam.com/parascara/units"
)

// DefaultLinkAngleThreshold is the minimum distance from a straight link pair.
const DefaultLinkAngleThreshold = 7 * units.Degree

// ErrEmptyCheckerSet is returned when combining zero checkers.
var ErrEmptyCheckerSet = errors.New("at least one workspace checker is required")

// A Checker decides whether a pose or a target position is inside the usable workspace.
type Checker interface {
	IsStateValid(state kinematics.ArmState) bool
	IsPositionValid(pos units.Position, mode kinematics.InverseMode) bool
}

// AlwaysValid accepts everything. It warns once that nothing is being checked.
type AlwaysValid struct {
	logger logging.Logger
	once   sync.Once
}

// NewAlwaysValid returns a checker that accepts all states and positions.
func NewAlwaysValid(logger logging.Logger) *AlwaysValid {
	return &AlwaysValid{logger: logger}
}

func (c *AlwaysValid) warn() {
	c.once.Do(func() {
		if c.logger != nil {
			c.logger.Warn("no workspace checker is configured, assuming every state and position is valid")
		}
	})
}

// IsStateValid always returns true.
func (c *AlwaysValid) IsStateValid(kinematics.ArmState) bool {
	c.warn()
	return true
}

// IsPositionValid always returns true.
func (c *AlwaysValid) IsPositionValid(units.Position, kinematics.InverseMode) bool {
	c.warn()
	return true
}

// LinkAngleChecker rejects poses whose distal links are close to a straight line,
// where the arm loses stiffness and can lock.
type LinkAngleChecker struct {
	solver    *kinematics.Solver
	threshold units.Angle
}

// NewLinkAngleChecker returns a checker for geometry g. A non-positive threshold
// uses DefaultLinkAngleThreshold.
func NewLinkAngleChecker(g kinematics.Geometry, threshold units.Angle) (*LinkAngleChecker, error) {
	solver, err := kinematics.NewSolver(g)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = DefaultLinkAngleThreshold
	}
	return &LinkAngleChecker{solver: solver, threshold: threshold}, nil
}

// Threshold returns the configured minimum margin.
func (c *LinkAngleChecker) Threshold() units.Angle {
	return c.threshold
}

// LinkAngle is the unsigned angle at the end effector between the directions
// toward the two base endpoints. It is π when the links are collinear.
func LinkAngle(state kinematics.ArmState) units.Angle {
	effector := state.EndEffector.R2()
	toLeft := state.LeftBaseEnd.R2().Sub(effector)
	toRight := state.RightBaseEnd.R2().Sub(effector)
	return units.Angle(math.Atan2(math.Abs(toLeft.Cross(toRight)), toLeft.Dot(toRight))).Positive()
}

// IsStateValid reports whether the link angle is at least the threshold away from π.
func (c *LinkAngleChecker) IsStateValid(state kinematics.ArmState) bool {
	return (LinkAngle(state) - math.Pi).Abs() >= c.threshold
}

// IsPositionValid solves pos for mode and checks the first resulting state.
// Unreachable positions and bad modes are invalid.
func (c *LinkAngleChecker) IsPositionValid(pos units.Position, mode kinematics.InverseMode) bool {
	states, err := c.solver.SolveInverse(pos, mode)
	if err != nil || len(states) == 0 {
		return false
	}
	return c.IsStateValid(states[0])
}

// Combined requires every contained checker to pass, evaluated in order.
type Combined struct {
	checkers []Checker
}

// NewCombined returns the conjunction of checkers.
func NewCombined(checkers ...Checker) (*Combined, error) {
	if len(checkers) == 0 {
		return nil, ErrEmptyCheckerSet
	}
	return &Combined{checkers: append([]Checker(nil), checkers...)}, nil
}

// IsStateValid returns false at the first checker that rejects state.
func (c *Combined) IsStateValid(state kinematics.ArmState) bool {
	for _, checker := range c.checkers {
		if !checker.IsStateValid(state) {
			return false
		}
	}
	return true
}

// IsPositionValid returns false at the first checker that rejects pos.
func (c *Combined) IsPositionValid(pos units.Position, mode kinematics.InverseMode) bool {
	for _, checker := range c.checkers {
		if !checker.IsPositionValid(pos, mode) {
			return false
		}
	}
	return true
}

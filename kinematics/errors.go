package kinematics

import (
	"github.com/pkg/errors"

	"go.viam.com/parascara/units"
)

var (
	// ErrUnreachableTarget is returned when no configuration of the arm reaches a position.
	ErrUnreachableTarget = errors.New("target position is unreachable")
	// ErrInvalidMode is returned for a mode string outside the accepted set.
	ErrInvalidMode = errors.New("invalid kinematics mode")
	// ErrInvalidGeometry is returned when a geometry has a non-positive dimension.
	ErrInvalidGeometry = errors.New("invalid arm geometry")
)

// NewUnreachableTargetError reports which side of the arm cannot reach pos and the
// annulus that side covers around its motor origin.
func NewUnreachableTargetError(side string, pos units.Position, reach, minReach, maxReach units.Length) error {
	return errors.Wrapf(ErrUnreachableTarget,
		"%s side cannot reach %v: distance from motor origin %v is outside [%v, %v]",
		side, pos, reach, minReach, maxReach)
}

// NewInvalidModeError returns an error naming the rejected mode and the accepted ones.
func NewInvalidModeError(mode string, accepted []string) error {
	return errors.Wrapf(ErrInvalidMode, "%q is not one of %q", mode, accepted)
}

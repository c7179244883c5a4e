// Package fivebar implements a parallel SCARA arm: two base motors whose links meet
// at a shared end effector.
//
// Every move is solved, checked against the workspace, and planned on both axes
// before either axis is commanded, so a rejected target never moves the arm.
package fivebar

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/parascara/components/motor/stepper"
	"go.viam.com/parascara/kinematics"
	"go.viam.com/parascara/logging"
	"go.viam.com/parascara/operation"
	"go.viam.com/parascara/units"
	"go.viam.com/parascara/workspace"
)

// ErrOutsideWorkspace is returned for reachable targets the workspace checker rejects.
var ErrOutsideWorkspace = errors.New("target is outside the valid workspace")

// MoveOptions select the inverse kinematics branch and optional axis limits for a move.
type MoveOptions struct {
	// Mode defaults to kinematics.DefaultInverseMode.
	Mode             kinematics.InverseMode
	MaxDegPerSec     *float64
	MaxAccDegPerSec2 *float64
}

func (o MoveOptions) mode() kinematics.InverseMode {
	if o.Mode == "" {
		return kinematics.DefaultInverseMode
	}
	return o.Mode
}

func (o MoveOptions) axisOptions() stepper.MoveOptions {
	return stepper.MoveOptions{MaxDegPerSec: o.MaxDegPerSec, MaxAccDegPerSec2: o.MaxAccDegPerSec2}
}

// Arm owns the solver, both axes, and the workspace checker.
type Arm struct {
	solver  *kinematics.Solver
	left    *stepper.Axis
	right   *stepper.Axis
	checker workspace.Checker
	logger  logging.Logger

	mu     sync.Mutex
	closed bool
	opMgr  operation.SingleOperationManager
}

// New returns an arm over the given axes. A nil checker accepts every reachable target.
// The arm takes ownership of the axes and closes them on Close.
func New(g kinematics.Geometry, left, right *stepper.Axis, checker workspace.Checker, logger logging.Logger) (*Arm, error) {
	if left == nil || right == nil {
		return nil, errors.New("five-bar arm needs both a left and a right axis")
	}
	solver, err := kinematics.NewSolver(g)
	if err != nil {
		return nil, err
	}
	if checker == nil {
		checker = workspace.NewAlwaysValid(logger)
	}
	return &Arm{
		solver:  solver,
		left:    left,
		right:   right,
		checker: checker,
		logger:  logger,
	}, nil
}

// Geometry returns the linkage geometry.
func (a *Arm) Geometry() kinematics.Geometry {
	return a.solver.Geometry()
}

// Solver returns the kinematics solver for the arm's geometry.
func (a *Arm) Solver() *kinematics.Solver {
	return a.solver
}

// Solve returns the state the arm would take at pos, failing like MoveToPosition would.
// Nothing is commanded.
func (a *Arm) Solve(pos units.Position, mode kinematics.InverseMode) (kinematics.ArmState, error) {
	if mode == "" {
		mode = kinematics.DefaultInverseMode
	}
	states, err := a.solver.SolveInverse(pos, mode)
	if err != nil {
		return kinematics.ArmState{}, err
	}
	state := states[0]
	if !a.checker.IsStateValid(state) {
		return state, errors.Wrapf(ErrOutsideWorkspace, "position %v in mode %q (link angle %v)", pos, mode, workspace.LinkAngle(state))
	}
	return state, nil
}

// MoveToPosition starts moving the end effector to pos and returns without waiting.
// Both axes take the shorter way to their new angles.
func (a *Arm) MoveToPosition(ctx context.Context, pos units.Position, opts MoveOptions) error {
	state, err := a.Solve(pos, opts.mode())
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	leftPlan, err := a.left.PlanClosestDirection(ctx, state.LeftBaseAngle)
	if err != nil {
		return err
	}
	rightPlan, err := a.right.PlanClosestDirection(ctx, state.RightBaseAngle)
	if err != nil {
		return err
	}

	axisOpts := opts.axisOptions()
	if err := a.left.Commit(ctx, leftPlan, axisOpts); err != nil {
		return err
	}
	if err := a.right.Commit(ctx, rightPlan, axisOpts); err != nil {
		if rollbackErr := a.left.Rollback(ctx, leftPlan); rollbackErr != nil {
			a.logger.Errorw("failed to restore left axis target", "error", rollbackErr)
			return multierr.Combine(err, rollbackErr)
		}
		return err
	}

	a.logger.Debugw("moving to position",
		"position", pos,
		"mode", opts.mode(),
		"left", state.LeftBaseAngle,
		"right", state.RightBaseAngle,
		"left_travel", leftPlan.Travel,
		"right_travel", rightPlan.Travel)
	return nil
}

// MoveToPositionBlocking moves to pos and waits until both axes arrive.
func (a *Arm) MoveToPositionBlocking(ctx context.Context, pos units.Position, opts MoveOptions) error {
	if err := a.MoveToPosition(ctx, pos, opts); err != nil {
		return err
	}
	return a.BlockUntilReached(ctx)
}

// BlockUntilReached waits for both axes to reach their targets. A newer wait cancels this one,
// and the first axis to fail stops the wait on the other.
func (a *Arm) BlockUntilReached(ctx context.Context) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	errs, ctx := errgroup.WithContext(ctx)
	errs.Go(func() error {
		return a.left.BlockUntilReached(ctx)
	})
	errs.Go(func() error {
		return a.right.BlockUntilReached(ctx)
	})
	return errs.Wait()
}

// IsMoving reports whether either axis has not reached its target.
func (a *Arm) IsMoving(ctx context.Context) (bool, error) {
	leftMoving, err := a.left.IsMoving(ctx)
	if err != nil {
		return false, err
	}
	rightMoving, err := a.right.IsMoving(ctx)
	if err != nil {
		return false, err
	}
	return leftMoving || rightMoving, nil
}

// ResetPosition declares that the end effector currently sits at pos in mode and energizes both motors.
func (a *Arm) ResetPosition(ctx context.Context, pos units.Position, mode kinematics.InverseMode) error {
	if mode == "" {
		mode = kinematics.DefaultInverseMode
	}
	states, err := a.solver.SolveInverse(pos, mode)
	if err != nil {
		return err
	}
	if !a.checker.IsStateValid(states[0]) {
		a.logger.Warnw("reset position is outside the valid workspace", "position", pos, "mode", mode)
	}
	return a.ResetAngles(ctx, states[0].LeftBaseAngle, states[0].RightBaseAngle)
}

// ResetAngles declares the current base angles of both motors and energizes them.
func (a *Arm) ResetAngles(ctx context.Context, left, right units.Angle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.left.ResetPosition(ctx, left); err != nil {
		return err
	}
	if err := a.right.ResetPosition(ctx, right); err != nil {
		return err
	}
	a.logger.Infow("arm position reset", "left", left, "right", right)
	return nil
}

// CurrentAngles returns both base angles in [0°, 360°).
func (a *Arm) CurrentAngles(ctx context.Context) (units.Angle, units.Angle, error) {
	left, err := a.left.CurrentAngle(ctx)
	if err != nil {
		return 0, 0, err
	}
	right, err := a.right.CurrentAngle(ctx)
	if err != nil {
		return 0, 0, err
	}
	return left, right, nil
}

// CurrentState solves the forward kinematics of the current base angles. An empty mode
// uses kinematics.DefaultForwardMode. The result is empty when the angles have no solution.
func (a *Arm) CurrentState(ctx context.Context, mode kinematics.ForwardMode) ([]kinematics.ArmState, error) {
	if mode == "" {
		mode = kinematics.DefaultForwardMode
	}
	left, right, err := a.CurrentAngles(ctx)
	if err != nil {
		return nil, err
	}
	return a.solver.SolveForward(left, right, mode)
}

// IsPositionValid asks the workspace checker about pos.
func (a *Arm) IsPositionValid(pos units.Position, mode kinematics.InverseMode) bool {
	return a.checker.IsPositionValid(pos, mode)
}

// IsStateValid asks the workspace checker about state.
func (a *Arm) IsStateValid(state kinematics.ArmState) bool {
	return a.checker.IsStateValid(state)
}

// Close de-energizes both motors and releases their drivers. Both axes are always
// attempted; failures are logged and returned together.
func (a *Arm) Close(ctx context.Context) error {
	a.opMgr.CancelRunning(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var err error
	for _, axis := range []*stepper.Axis{a.left, a.right} {
		if closeErr := axis.Close(ctx); closeErr != nil {
			a.logger.Errorw("failed to close axis", "name", axis.Name(), "error", closeErr)
			err = multierr.Combine(err, closeErr)
		}
	}
	return err
}

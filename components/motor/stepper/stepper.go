// Package stepper turns a step-counting motor driver into an angle-addressed axis
// that reaches each target by the shorter way around.
//
// Positive steps are clockwise. A reversed axis flips the sign of every step
// count exchanged with its driver, so callers always see clockwise as positive.
package stepper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/parascara/components/motor"
	"go.viam.com/parascara/logging"
	"go.viam.com/parascara/operation"
	"go.viam.com/parascara/units"
	"go.viam.com/parascara/utils"
)

// Defaults applied to zero fields of Config.
const (
	DefaultDegreesPerStep   = 1.8
	DefaultGearRatio        = 1.0
	DefaultMaxDegPerSec     = 360.0
	DefaultMaxAccDegPerSec2 = 1800.0
	DefaultPollInterval     = 5 * time.Millisecond
	DefaultStallTimeout     = 10 * time.Second
)

var (
	// ErrMotionTimeout is returned when an axis stops making progress toward its target.
	ErrMotionTimeout = errors.New("axis stopped moving before reaching its target")
	// ErrNotEnergized is returned for motion requests before the position was reset.
	ErrNotEnergized = errors.New("axis is de-energized, reset its position first")
	// ErrAxisClosed is returned for any request after Close.
	ErrAxisClosed = errors.New("axis is closed")
)

// State is the lifecycle of an axis.
type State int

// The axis states. Only ResetPosition leaves StateDeenergized.
const (
	StateDeenergized State = iota
	StateIdle
	StateMoving
)

func (s State) String() string {
	switch s {
	case StateDeenergized:
		return "deenergized"
	case StateIdle:
		return "idle"
	case StateMoving:
		return "moving"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config describes one motor axis.
type Config struct {
	StepMode motor.StepMode
	Reversed bool
	// DegreesPerStep is the full step angle of the motor.
	DegreesPerStep float64
	// GearRatio is motor revolutions per output revolution.
	GearRatio        float64
	MaxDegPerSec     float64
	MaxAccDegPerSec2 float64
	// CurrentLimit is sent to drivers that support it when set.
	CurrentLimit *uint8
	PollInterval time.Duration
	StallTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.DegreesPerStep == 0 {
		cfg.DegreesPerStep = DefaultDegreesPerStep
	}
	if cfg.GearRatio == 0 {
		cfg.GearRatio = DefaultGearRatio
	}
	if cfg.MaxDegPerSec == 0 {
		cfg.MaxDegPerSec = DefaultMaxDegPerSec
	}
	if cfg.MaxAccDegPerSec2 == 0 {
		cfg.MaxAccDegPerSec2 = DefaultMaxAccDegPerSec2
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	return cfg
}

// Validate ensures all parts of the config are valid.
func (cfg Config) Validate() error {
	if err := cfg.StepMode.Validate(); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"degrees_per_step", cfg.DegreesPerStep},
		{"gear_ratio", cfg.GearRatio},
		{"max_deg_per_sec", cfg.MaxDegPerSec},
		{"max_acc_deg_per_sec2", cfg.MaxAccDegPerSec2},
	} {
		if f.val < 0 || math.IsNaN(f.val) || math.IsInf(f.val, 0) {
			return errors.Errorf("%s must be a positive number, got %v", f.name, f.val)
		}
	}
	if cfg.PollInterval < 0 || cfg.StallTimeout < 0 {
		return errors.New("poll interval and stall timeout must not be negative")
	}
	if steps := cfg.withDefaults().microstepsPerRevolution(); steps < 1 {
		return errors.Errorf("gear_ratio %v and degrees_per_step %v leave %d microsteps per revolution",
			cfg.GearRatio, cfg.DegreesPerStep, steps)
	}
	return nil
}

func (cfg Config) degreesPerMicrostep() float64 {
	return cfg.DegreesPerStep / float64(cfg.StepMode.Divisor()) / cfg.GearRatio
}

func (cfg Config) microstepsPerRevolution() int64 {
	return int64(math.Round(360 / cfg.degreesPerMicrostep()))
}

// MoveOptions override the axis limits before a move. The new limits stay in effect.
type MoveOptions struct {
	MaxDegPerSec     *float64
	MaxAccDegPerSec2 *float64
}

// Option configures an Axis.
type Option func(*Axis)

// WithClock replaces the clock used for polling and stall detection.
func WithClock(clk clock.Clock) Option {
	return func(a *Axis) {
		a.clock = clk
	}
}

// Plan is a computed but not yet commanded move. Steps are in the axis frame,
// clockwise positive.
type Plan struct {
	Target    units.Angle
	Clockwise bool
	// Travel is the signed rotation the move makes.
	Travel         units.Angle
	FromSteps      int64
	TargetSteps    int64
	previousTarget int64
}

// Axis is one motor of the arm addressed by output angle.
type Axis struct {
	name                string
	driver              motor.Driver
	logger              logging.Logger
	clock               clock.Clock
	sign                int64
	degreesPerMicrostep float64
	stepsPerRevolution  int64
	pollInterval        time.Duration
	stallTimeout        time.Duration

	mu               sync.Mutex
	state            State
	closed           bool
	maxDegPerSec     float64
	maxAccDegPerSec2 float64

	opMgr operation.SingleOperationManager
}

// New de-energizes driver, applies the step mode and limits, and returns the axis in
// StateDeenergized.
func New(ctx context.Context, name string, driver motor.Driver, cfg Config, logger logging.Logger, opts ...Option) (*Axis, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config for axis (%s)", name)
	}

	dpm := cfg.degreesPerMicrostep()
	a := &Axis{
		name:                name,
		driver:              driver,
		logger:              logger,
		clock:               clock.New(),
		sign:                1,
		degreesPerMicrostep: dpm,
		stepsPerRevolution:  cfg.microstepsPerRevolution(),
		pollInterval:        cfg.PollInterval,
		stallTimeout:        cfg.StallTimeout,
		state:               StateDeenergized,
	}
	if cfg.Reversed {
		a.sign = -1
	}
	for _, opt := range opts {
		opt(a)
	}
	a.opMgr.Clock = a.clock

	if err := driver.Deenergize(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to de-energize axis (%s)", name)
	}
	if setter, ok := driver.(motor.StepModeSetter); ok {
		if err := setter.SetStepMode(ctx, cfg.StepMode); err != nil {
			return nil, errors.Wrapf(err, "failed to set step mode of axis (%s)", name)
		}
	} else if cfg.StepMode != motor.StepModeFull {
		logger.Warnw("driver cannot set its step mode, assuming it already matches", "name", name, "step_mode", cfg.StepMode)
	}
	if cfg.CurrentLimit != nil {
		setter, ok := driver.(motor.CurrentLimitSetter)
		if !ok {
			return nil, utils.NewUnimplementedInterfaceError("motor.CurrentLimitSetter", driver)
		}
		if err := setter.SetCurrentLimit(ctx, *cfg.CurrentLimit); err != nil {
			return nil, errors.Wrapf(err, "failed to set current limit of axis (%s)", name)
		}
	}
	if err := a.setSpeed(ctx, cfg.MaxDegPerSec); err != nil {
		return nil, err
	}
	if err := a.setAcceleration(ctx, cfg.MaxAccDegPerSec2); err != nil {
		return nil, err
	}

	logger.Debugw("axis ready", "name", name, "deg_per_microstep", dpm, "reversed", cfg.Reversed)
	return a, nil
}

// Name returns the axis name.
func (a *Axis) Name() string {
	return a.name
}

// DegreesPerMicrostep is the output rotation of one microstep.
func (a *Axis) DegreesPerMicrostep() float64 {
	return a.degreesPerMicrostep
}

// MicrostepsPerRevolution is the number of microsteps in one output revolution.
func (a *Axis) MicrostepsPerRevolution() int64 {
	return a.stepsPerRevolution
}

// State returns the last known state. Use IsMoving to refresh it.
func (a *Axis) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Limits returns the speed and acceleration limits in effect.
func (a *Axis) Limits() (degPerSec, accDegPerSec2 float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxDegPerSec, a.maxAccDegPerSec2
}

// must hold a.mu or be constructing.
func (a *Axis) setSpeed(ctx context.Context, degPerSec float64) error {
	if !(degPerSec > 0) {
		return errors.Errorf("axis (%s) speed must be positive, got %v", a.name, degPerSec)
	}
	if err := a.driver.SetMaxSpeed(ctx, degPerSec/a.degreesPerMicrostep); err != nil {
		return errors.Wrapf(err, "failed to set speed of axis (%s)", a.name)
	}
	a.maxDegPerSec = degPerSec
	return nil
}

// must hold a.mu or be constructing.
func (a *Axis) setAcceleration(ctx context.Context, degPerSec2 float64) error {
	if !(degPerSec2 > 0) {
		return errors.Errorf("axis (%s) acceleration must be positive, got %v", a.name, degPerSec2)
	}
	stepsPerSec2 := degPerSec2 / a.degreesPerMicrostep
	if err := a.driver.SetMaxAcceleration(ctx, stepsPerSec2); err != nil {
		return errors.Wrapf(err, "failed to set acceleration of axis (%s)", a.name)
	}
	if err := a.driver.SetMaxDeceleration(ctx, stepsPerSec2); err != nil {
		return errors.Wrapf(err, "failed to set deceleration of axis (%s)", a.name)
	}
	a.maxAccDegPerSec2 = degPerSec2
	return nil
}

// must hold a.mu.
func (a *Axis) checkOpen() error {
	if a.closed {
		return errors.Wrapf(ErrAxisClosed, "axis (%s)", a.name)
	}
	return nil
}

// must hold a.mu.
func (a *Axis) checkEnergized() error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if a.state == StateDeenergized {
		return errors.Wrapf(ErrNotEnergized, "axis (%s)", a.name)
	}
	return nil
}

func (a *Axis) stepsToDegrees(steps int64) float64 {
	wrapped := ((steps % a.stepsPerRevolution) + a.stepsPerRevolution) % a.stepsPerRevolution
	return utils.ModAngDeg(float64(wrapped) * a.degreesPerMicrostep)
}

func (a *Axis) degreesToSteps(deg float64, clockwise bool) int64 {
	return int64(math.Round(WrapDeg(deg, clockwise) / a.degreesPerMicrostep))
}

// must hold a.mu.
func (a *Axis) currentSteps(ctx context.Context) (int64, error) {
	steps, err := a.driver.CurrentPosition(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read position of axis (%s)", a.name)
	}
	return a.sign * steps, nil
}

// must hold a.mu.
func (a *Axis) targetSteps(ctx context.Context) (int64, error) {
	steps, err := a.driver.TargetPosition(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read target of axis (%s)", a.name)
	}
	return a.sign * steps, nil
}

// ResetPosition declares the current shaft angle to be angle, then energizes the motor.
func (a *Axis) ResetPosition(ctx context.Context, angle units.Angle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}

	steps := a.degreesToSteps(angle.Degrees(), true)
	if err := a.driver.HaltAndSetPosition(ctx, a.sign*steps); err != nil {
		return errors.Wrapf(err, "failed to set position of axis (%s)", a.name)
	}
	if err := a.driver.ExitSafeStart(ctx); err != nil {
		return errors.Wrapf(err, "failed to exit safe start on axis (%s)", a.name)
	}
	if err := a.driver.Energize(ctx); err != nil {
		return errors.Wrapf(err, "failed to energize axis (%s)", a.name)
	}
	a.state = StateIdle
	a.logger.Debugw("axis position reset", "name", a.name, "angle", angle, "steps", steps)
	return nil
}

// PlanClosestDirection computes the move to target that rotates the least.
// A half-turn tie goes clockwise. Nothing is sent to the driver.
func (a *Axis) PlanClosestDirection(ctx context.Context, target units.Angle) (Plan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.planLocked(ctx, target, nil)
}

// PlanDirection computes the move to target turning the given way.
func (a *Axis) PlanDirection(ctx context.Context, target units.Angle, clockwise bool) (Plan, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.planLocked(ctx, target, &clockwise)
}

// must hold a.mu.
func (a *Axis) planLocked(ctx context.Context, target units.Angle, clockwise *bool) (Plan, error) {
	if err := a.checkEnergized(); err != nil {
		return Plan{}, err
	}
	from, err := a.currentSteps(ctx)
	if err != nil {
		return Plan{}, err
	}
	previous, err := a.targetSteps(ctx)
	if err != nil {
		return Plan{}, err
	}

	diff := target.Degrees() - a.stepsToDegrees(from)
	cw := WrapDeg(diff, true)
	ccw := WrapDeg(diff, false)
	var dir bool
	if clockwise != nil {
		dir = *clockwise
	} else {
		dir = math.Abs(cw) <= math.Abs(ccw)
	}
	travel := ccw
	if dir {
		travel = cw
	}

	return Plan{
		Target:         target,
		Clockwise:      dir,
		Travel:         units.Angle(travel) * units.Degree,
		FromSteps:      from,
		TargetSteps:    from + a.degreesToSteps(travel, dir),
		previousTarget: previous,
	}, nil
}

// Commit applies opts and commands the move in plan.
func (a *Axis) Commit(ctx context.Context, plan Plan, opts MoveOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkEnergized(); err != nil {
		return err
	}

	if opts.MaxDegPerSec != nil {
		if err := a.setSpeed(ctx, *opts.MaxDegPerSec); err != nil {
			return err
		}
	}
	if opts.MaxAccDegPerSec2 != nil {
		if err := a.setAcceleration(ctx, *opts.MaxAccDegPerSec2); err != nil {
			return err
		}
	}
	if err := a.driver.SetTargetPosition(ctx, a.sign*plan.TargetSteps); err != nil {
		return errors.Wrapf(err, "failed to set target of axis (%s)", a.name)
	}
	if plan.TargetSteps != plan.FromSteps {
		a.state = StateMoving
	}
	a.logger.Debugw("axis move", "name", a.name, "target", plan.Target, "travel", plan.Travel, "target_steps", plan.TargetSteps)
	return nil
}

// Rollback re-commands the target that was in effect when plan was made.
func (a *Axis) Rollback(ctx context.Context, plan Plan) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkEnergized(); err != nil {
		return err
	}
	if err := a.driver.SetTargetPosition(ctx, a.sign*plan.previousTarget); err != nil {
		return errors.Wrapf(err, "failed to restore target of axis (%s)", a.name)
	}
	return nil
}

// MoveToAngleClosestDirection starts moving to target by the shorter way around.
func (a *Axis) MoveToAngleClosestDirection(ctx context.Context, target units.Angle, opts MoveOptions) error {
	plan, err := a.PlanClosestDirection(ctx, target)
	if err != nil {
		return err
	}
	return a.Commit(ctx, plan, opts)
}

// MoveToAngle starts moving to target turning the given way, up to almost a full turn.
func (a *Axis) MoveToAngle(ctx context.Context, target units.Angle, clockwise bool, opts MoveOptions) error {
	plan, err := a.PlanDirection(ctx, target, clockwise)
	if err != nil {
		return err
	}
	return a.Commit(ctx, plan, opts)
}

// must hold a.mu.
func (a *Axis) isMovingLocked(ctx context.Context) (bool, int64, error) {
	current, err := a.currentSteps(ctx)
	if err != nil {
		return false, 0, err
	}
	target, err := a.targetSteps(ctx)
	if err != nil {
		return false, 0, err
	}
	moving := current != target
	if a.state != StateDeenergized {
		if moving {
			a.state = StateMoving
		} else {
			a.state = StateIdle
		}
	}
	return moving, current, nil
}

// IsMoving reports whether the driver has not yet reached its target.
func (a *Axis) IsMoving(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return false, err
	}
	if a.state == StateDeenergized {
		return false, nil
	}
	moving, _, err := a.isMovingLocked(ctx)
	return moving, err
}

// BlockUntilReached waits for the axis to reach its target. If the position does
// not change for the stall timeout it gives up with ErrMotionTimeout.
func (a *Axis) BlockUntilReached(ctx context.Context) error {
	a.mu.Lock()
	err := a.checkEnergized()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	stopSlowLog := utils.SlowLogger(ctx, a.clock, "waiting for axis to reach its target", "name", a.name, a.logger)
	defer stopSlowLog()

	var (
		seen         bool
		lastPosition int64
		lastProgress time.Time
	)
	return a.opMgr.WaitForSuccess(ctx, a.pollInterval, func(ctx context.Context) (bool, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if err := a.checkEnergized(); err != nil {
			return false, err
		}
		moving, current, err := a.isMovingLocked(ctx)
		if err != nil {
			return false, err
		}
		if !moving {
			return true, nil
		}

		now := a.clock.Now()
		if !seen || current != lastPosition {
			seen, lastPosition, lastProgress = true, current, now
			return false, nil
		}
		if stalled := now.Sub(lastProgress); stalled >= a.stallTimeout {
			return false, errors.Wrapf(ErrMotionTimeout, "axis (%s) held step %d for %v", a.name, current, stalled)
		}
		return false, nil
	})
}

// CurrentSteps returns the step counter in the axis frame.
func (a *Axis) CurrentSteps(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	return a.currentSteps(ctx)
}

// CurrentAngle returns the shaft angle in [0°, 360°).
func (a *Axis) CurrentAngle(ctx context.Context) (units.Angle, error) {
	steps, err := a.CurrentSteps(ctx)
	if err != nil {
		return 0, err
	}
	return units.Angle(a.stepsToDegrees(steps)) * units.Degree, nil
}

// Close de-energizes the motor and releases the driver. The axis cannot be used afterwards.
func (a *Axis) Close(ctx context.Context) error {
	a.opMgr.CancelRunning(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.state = StateDeenergized

	err := a.driver.Deenergize(ctx)
	if err != nil {
		err = errors.Wrapf(err, "failed to de-energize axis (%s)", a.name)
	}
	if closer, ok := a.driver.(motor.Closer); ok {
		err = multierr.Combine(err, closer.Close(ctx))
	}
	return err
}

// WrapDeg maps d into [0, 360) when clockwise and into (-360, 0] otherwise.
func WrapDeg(d float64, clockwise bool) float64 {
	m := utils.ModAngDeg(d)
	if !clockwise && m > 0 {
		m -= 360
	}
	return m
}

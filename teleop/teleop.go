// Package teleop jogs the arm's end effector from a stick.
//
// Each update integrates the stick deflection into a candidate target. The
// candidate is committed only if the workspace accepts it and the arm takes
// the move; otherwise the last committed target stays in effect.
package teleop

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/parascara/components/arm/fivebar"
	"go.viam.com/parascara/config"
	"go.viam.com/parascara/kinematics"
	"go.viam.com/parascara/logging"
	"go.viam.com/parascara/units"
)

// Defaults for zero Config fields.
const (
	DefaultMaxSpeed = 50 * units.Millimeter
	DefaultDeadzone = 0.05
	DefaultRateHz   = 50.0
)

// Arm is the part of the arm the controller drives.
type Arm interface {
	IsPositionValid(pos units.Position, mode kinematics.InverseMode) bool
	MoveToPosition(ctx context.Context, pos units.Position, opts fivebar.MoveOptions) error
}

var _ Arm = &fivebar.Arm{}

// Input is one stick sample. X and Y are in [-1, 1]; positive Y moves away from the motors.
type Input struct {
	X, Y   float64
	Enable bool
}

// Config tunes the controller.
type Config struct {
	Start units.Position
	// MaxSpeed is the distance covered per second at full deflection.
	MaxSpeed units.Length
	Deadzone float64
	RateHz   float64
	Mode     kinematics.InverseMode
}

// ConfigFromRig converts the teleop section of a rig config.
func ConfigFromRig(cfg config.TeleopConfig) (Config, error) {
	if err := cfg.Validate("teleop"); err != nil {
		return Config{}, err
	}
	unit, err := units.ParseLengthUnit(cfg.Unit)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Start:    units.NewPosition(cfg.StartX, cfg.StartY, unit),
		MaxSpeed: units.Length(cfg.MaxSpeed) * unit,
		Deadzone: cfg.Deadzone,
		RateHz:   cfg.RateHz,
		Mode:     kinematics.InverseMode(cfg.Mode),
	}.withDefaults(), nil
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxSpeed == 0 {
		cfg.MaxSpeed = DefaultMaxSpeed
	}
	if cfg.Deadzone == 0 {
		cfg.Deadzone = DefaultDeadzone
	}
	if cfg.RateHz == 0 {
		cfg.RateHz = DefaultRateHz
	}
	if cfg.Mode == "" {
		cfg.Mode = kinematics.DefaultInverseMode
	}
	return cfg
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the clock used to integrate stick input and pace Run.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// Controller turns stick input into arm moves.
type Controller struct {
	arm    Arm
	cfg    Config
	logger logging.Logger
	clock  clock.Clock

	mu           sync.Mutex
	target       units.Position
	lastUpdate   time.Time
	movedToStart bool
	rejected     int
}

// NewController returns a controller that will first move the arm to cfg.Start.
func NewController(arm Arm, cfg Config, logger logging.Logger, opts ...Option) (*Controller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Mode.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSpeed < 0 || cfg.Deadzone < 0 || cfg.Deadzone >= 1 || cfg.RateHz < 0 {
		return nil, errors.Errorf("invalid teleop config %+v", cfg)
	}
	c := &Controller{
		arm:    arm,
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
		target: cfg.Start,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastUpdate = c.clock.Now()
	return c, nil
}

// Target returns the last committed target.
func (c *Controller) Target() units.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Rejected returns how many candidates were rolled back.
func (c *Controller) Rejected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

func (c *Controller) deadzone(v float64) float64 {
	if math.IsNaN(v) || math.Abs(v) < c.cfg.Deadzone {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

// Update applies one input sample. Rejected candidates are not errors; only
// failures to talk to the arm are returned.
func (c *Controller) Update(ctx context.Context, in Input) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	dt := now.Sub(c.lastUpdate).Seconds()
	c.lastUpdate = now

	candidate := c.cfg.Start
	if c.movedToStart {
		if !in.Enable {
			return nil
		}
		dx, dy := c.deadzone(in.X), c.deadzone(in.Y)
		if dx == 0 && dy == 0 {
			return nil
		}
		step := c.cfg.MaxSpeed * units.Length(dt)
		candidate = c.target.Add(units.Position{X: step * units.Length(dx), Y: step * units.Length(dy)})
	}

	if !c.arm.IsPositionValid(candidate, c.cfg.Mode) {
		c.reject(candidate, nil)
		return nil
	}
	err := c.arm.MoveToPosition(ctx, candidate, fivebar.MoveOptions{Mode: c.cfg.Mode})
	switch {
	case err == nil:
	case errors.Is(err, fivebar.ErrOutsideWorkspace), errors.Is(err, kinematics.ErrUnreachableTarget):
		c.reject(candidate, err)
		return nil
	default:
		return err
	}

	if !c.movedToStart {
		c.logger.Infow("moved to teleop start", "position", candidate)
	}
	c.movedToStart = true
	c.target = candidate
	return nil
}

// must hold c.mu.
func (c *Controller) reject(candidate units.Position, err error) {
	c.rejected++
	if !c.movedToStart {
		c.logger.Warnw("teleop start position is not in the workspace", "position", candidate, "error", err)
		return
	}
	c.logger.Debugw("not in the workspace, keeping last target", "candidate", candidate, "target", c.target, "error", err)
}

// Run applies the latest input from inputs at the configured rate until ctx is done
// or inputs is closed.
func (c *Controller) Run(ctx context.Context, inputs <-chan Input) error {
	ticker := c.clock.Ticker(time.Duration(float64(time.Second) / c.cfg.RateHz))
	defer ticker.Stop()

	var latest Input
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-inputs:
			if !ok {
				return nil
			}
			latest = in
		case <-ticker.C:
			if err := c.Update(ctx, latest); err != nil {
				return err
			}
		}
	}
}

// Package config defines the rig description read at startup: linkage geometry,
// both motor axes, the workspace checkers, and the teleop loop.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/parascara/components/motor"
	"go.viam.com/parascara/components/motor/stepper"
	"go.viam.com/parascara/kinematics"
	"go.viam.com/parascara/logging"
	"go.viam.com/parascara/units"
	"go.viam.com/parascara/workspace"
)

// DefaultConfigPath is where the CLI looks for a config when none is given.
const DefaultConfigPath = "parascara.json"

// Checker types.
const (
	CheckerTypeLinkAngle = "link_angle"
	CheckerTypeNone      = "none"
)

// Config describes one arm rig.
type Config struct {
	Geometry   GeometryConfig  `json:"geometry"`
	LeftMotor  MotorConfig     `json:"left_motor"`
	RightMotor MotorConfig     `json:"right_motor"`
	Workspace  WorkspaceConfig `json:"workspace"`
	Teleop     TeleopConfig    `json:"teleop"`

	ConfigFilePath string `json:"-"`
}

// Validate returns an error if any part of the config is invalid.
func (c *Config) Validate() error {
	if err := c.Geometry.Validate("geometry"); err != nil {
		return err
	}
	if err := c.LeftMotor.Validate("left_motor"); err != nil {
		return err
	}
	if err := c.RightMotor.Validate("right_motor"); err != nil {
		return err
	}
	if c.LeftMotor.I2CBus != "" && c.LeftMotor.I2CBus == c.RightMotor.I2CBus && c.LeftMotor.I2CAddr == c.RightMotor.I2CAddr {
		return utils.NewConfigValidationError("right_motor",
			errors.Errorf("i2c address %d on bus %q is already used by left_motor", c.RightMotor.I2CAddr, c.RightMotor.I2CBus))
	}
	if err := c.Workspace.Validate("workspace"); err != nil {
		return err
	}
	return c.Teleop.Validate("teleop")
}

// GeometryConfig holds the five linkage lengths in Unit.
type GeometryConfig struct {
	Unit         string  `json:"unit,omitempty"`
	LeftBase     float64 `json:"left_base"`
	RightBase    float64 `json:"right_base"`
	LeftLink     float64 `json:"left_link"`
	RightLink    float64 `json:"right_link"`
	AxisDistance float64 `json:"axis_distance"`
}

// Validate ensures all parts of the config are valid.
func (cfg *GeometryConfig) Validate(path string) error {
	if _, err := units.ParseLengthUnit(cfg.Unit); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"left_base", cfg.LeftBase},
		{"right_base", cfg.RightBase},
		{"left_link", cfg.LeftLink},
		{"right_link", cfg.RightLink},
		{"axis_distance", cfg.AxisDistance},
	} {
		if f.val == 0 {
			return utils.NewConfigValidationFieldRequiredError(path, f.name)
		}
		if f.val < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("%s must be positive, got %v", f.name, f.val))
		}
	}
	return nil
}

// LinkageGeometry converts the config to a kinematics.Geometry.
func (cfg *GeometryConfig) LinkageGeometry() (kinematics.Geometry, error) {
	unit, err := units.ParseLengthUnit(cfg.Unit)
	if err != nil {
		return kinematics.Geometry{}, err
	}
	g := kinematics.NewGeometry(unit, cfg.LeftBase, cfg.RightBase, cfg.LeftLink, cfg.RightLink, cfg.AxisDistance)
	return g, g.Validate()
}

// MotorConfig describes one axis and the Tic controller driving it.
type MotorConfig struct {
	I2CBus  string `json:"i2c_bus"`
	I2CAddr int    `json:"i2c_addr"`
	// StepMode is the number of microsteps per full step.
	StepMode         int     `json:"step_mode,omitempty"`
	Reversed         bool    `json:"reversed,omitempty"`
	GearRatio        float64 `json:"gear_ratio,omitempty"`
	DegreesPerStep   float64 `json:"degrees_per_step,omitempty"`
	MaxDegPerSec     float64 `json:"max_deg_per_sec,omitempty"`
	MaxAccDegPerSec2 float64 `json:"max_acc_deg_per_sec2,omitempty"`
	CurrentLimit     *int    `json:"current_limit,omitempty"`
	PollIntervalMs   int     `json:"poll_interval_ms,omitempty"`
	StallTimeoutMs   int     `json:"stall_timeout_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *MotorConfig) Validate(path string) error {
	if cfg.I2CBus != "" && (cfg.I2CAddr <= 0 || cfg.I2CAddr > 0x7F) {
		return utils.NewConfigValidationError(path, errors.Errorf("i2c_addr must be a 7 bit address, got %d", cfg.I2CAddr))
	}
	if cfg.StepMode != 0 {
		if _, err := motor.StepModeFromDivisor(cfg.StepMode); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if cfg.CurrentLimit != nil && (*cfg.CurrentLimit < 0 || *cfg.CurrentLimit > 0x7F) {
		return utils.NewConfigValidationError(path, errors.Errorf("current_limit must be in [0, 127], got %d", *cfg.CurrentLimit))
	}
	if cfg.PollIntervalMs < 0 || cfg.StallTimeoutMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("poll_interval_ms and stall_timeout_ms must not be negative"))
	}
	sc, err := cfg.StepperConfig()
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if err := sc.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// StepperConfig converts the config to a stepper.Config. Zero fields keep the stepper defaults.
func (cfg *MotorConfig) StepperConfig() (stepper.Config, error) {
	mode := motor.StepModeFull
	if cfg.StepMode != 0 {
		var err error
		mode, err = motor.StepModeFromDivisor(cfg.StepMode)
		if err != nil {
			return stepper.Config{}, err
		}
	}
	sc := stepper.Config{
		StepMode:         mode,
		Reversed:         cfg.Reversed,
		DegreesPerStep:   cfg.DegreesPerStep,
		GearRatio:        cfg.GearRatio,
		MaxDegPerSec:     cfg.MaxDegPerSec,
		MaxAccDegPerSec2: cfg.MaxAccDegPerSec2,
		PollInterval:     time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		StallTimeout:     time.Duration(cfg.StallTimeoutMs) * time.Millisecond,
	}
	if cfg.CurrentLimit != nil {
		limit := uint8(*cfg.CurrentLimit)
		sc.CurrentLimit = &limit
	}
	return sc, nil
}

// CheckerConfig describes one workspace checker.
type CheckerConfig struct {
	Type         string  `json:"type"`
	ThresholdDeg float64 `json:"threshold_deg,omitempty"`
}

// WorkspaceConfig lists the checkers every target must pass. An empty list checks nothing.
type WorkspaceConfig struct {
	Checkers []CheckerConfig `json:"checkers,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *WorkspaceConfig) Validate(path string) error {
	for idx, c := range cfg.Checkers {
		checkerPath := fmt.Sprintf("%s.checkers.%d", path, idx)
		switch c.Type {
		case CheckerTypeLinkAngle:
			if c.ThresholdDeg < 0 || c.ThresholdDeg >= 180 {
				return utils.NewConfigValidationError(checkerPath, errors.Errorf("threshold_deg must be in [0, 180), got %v", c.ThresholdDeg))
			}
		case CheckerTypeNone:
		case "":
			return utils.NewConfigValidationFieldRequiredError(checkerPath, "type")
		default:
			return utils.NewConfigValidationError(checkerPath, errors.Errorf("unknown checker type %q", c.Type))
		}
	}
	return nil
}

// NewChecker builds the configured checkers for geometry g.
func (cfg *WorkspaceConfig) NewChecker(g kinematics.Geometry, logger logging.Logger) (workspace.Checker, error) {
	if len(cfg.Checkers) == 0 {
		return workspace.NewAlwaysValid(logger), nil
	}
	checkers := make([]workspace.Checker, 0, len(cfg.Checkers))
	for _, c := range cfg.Checkers {
		switch c.Type {
		case CheckerTypeLinkAngle:
			checker, err := workspace.NewLinkAngleChecker(g, units.Angle(c.ThresholdDeg)*units.Degree)
			if err != nil {
				return nil, err
			}
			checkers = append(checkers, checker)
		case CheckerTypeNone:
			checkers = append(checkers, workspace.NewAlwaysValid(logger))
		default:
			return nil, errors.Errorf("unknown checker type %q", c.Type)
		}
	}
	if len(checkers) == 1 {
		return checkers[0], nil
	}
	return workspace.NewCombined(checkers...)
}

// TeleopConfig tunes the jog loop.
type TeleopConfig struct {
	MaxSpeed float64 `json:"max_speed,omitempty"`
	RateHz   float64 `json:"rate_hz,omitempty"`
	Deadzone float64 `json:"deadzone,omitempty"`
	StartX   float64 `json:"start_x,omitempty"`
	StartY   float64 `json:"start_y,omitempty"`
	// Unit applies to MaxSpeed (per second) and the start position.
	Unit string `json:"unit,omitempty"`
	Mode string `json:"mode,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *TeleopConfig) Validate(path string) error {
	if _, err := units.ParseLengthUnit(cfg.Unit); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if cfg.MaxSpeed < 0 || cfg.RateHz < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_speed and rate_hz must not be negative"))
	}
	if cfg.Deadzone < 0 || cfg.Deadzone >= 1 || math.IsNaN(cfg.Deadzone) {
		return utils.NewConfigValidationError(path, errors.Errorf("deadzone must be in [0, 1), got %v", cfg.Deadzone))
	}
	if cfg.Mode != "" {
		if err := kinematics.InverseMode(cfg.Mode).Validate(); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

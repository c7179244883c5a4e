package fivebar

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/parascara/components/board/genericlinux/buses"
	"go.viam.com/parascara/components/motor"
	"go.viam.com/parascara/components/motor/stepper"
	"go.viam.com/parascara/components/motor/tic"
	"go.viam.com/parascara/config"
	"go.viam.com/parascara/logging"
)

// A DriverFactory opens the driver for the named motor.
type DriverFactory func(ctx context.Context, name string, cfg config.MotorConfig) (motor.Driver, error)

// NewFromConfig builds the checker, both axes, and the arm described by cfg.
// Axes built before a failure are closed again.
func NewFromConfig(
	ctx context.Context,
	cfg *config.Config,
	newDriver DriverFactory,
	logger logging.Logger,
	opts ...stepper.Option,
) (*Arm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, err := cfg.Geometry.LinkageGeometry()
	if err != nil {
		return nil, err
	}
	checker, err := cfg.Workspace.NewChecker(g, logger.Sublogger("workspace"))
	if err != nil {
		return nil, err
	}

	left, err := newAxis(ctx, "left", cfg.LeftMotor, newDriver, logger, opts...)
	if err != nil {
		return nil, err
	}
	right, err := newAxis(ctx, "right", cfg.RightMotor, newDriver, logger, opts...)
	if err != nil {
		return nil, multierr.Combine(err, left.Close(ctx))
	}

	arm, err := New(g, left, right, checker, logger)
	if err != nil {
		return nil, multierr.Combine(err, left.Close(ctx), right.Close(ctx))
	}
	return arm, nil
}

func newAxis(
	ctx context.Context,
	name string,
	mc config.MotorConfig,
	newDriver DriverFactory,
	logger logging.Logger,
	opts ...stepper.Option,
) (*stepper.Axis, error) {
	sc, err := mc.StepperConfig()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s motor config", name)
	}
	driver, err := newDriver(ctx, name, mc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s motor driver", name)
	}
	axis, err := stepper.New(ctx, name, driver, sc, logger.Sublogger(name), opts...)
	if err != nil {
		if closer, ok := driver.(motor.Closer); ok {
			err = multierr.Combine(err, closer.Close(ctx))
		}
		return nil, err
	}
	return axis, nil
}

// TicDrivers opens Tic controllers on the host's I2C buses. Motors on the same bus
// share one bus handle.
type TicDrivers struct {
	logger  logging.Logger
	openBus func(name string) (buses.I2C, error)

	mu    sync.Mutex
	buses map[string]buses.I2C
}

// NewTicDrivers returns a factory over the host I2C buses.
func NewTicDrivers(logger logging.Logger) *TicDrivers {
	return NewTicDriversWithBuses(func(name string) (buses.I2C, error) {
		return buses.NewI2cBus(name)
	}, logger)
}

// NewTicDriversWithBuses returns a factory that opens buses with openBus.
func NewTicDriversWithBuses(openBus func(name string) (buses.I2C, error), logger logging.Logger) *TicDrivers {
	return &TicDrivers{logger: logger, openBus: openBus, buses: map[string]buses.I2C{}}
}

// Driver opens the Tic for one motor. It has the DriverFactory signature.
func (f *TicDrivers) Driver(ctx context.Context, name string, cfg config.MotorConfig) (motor.Driver, error) {
	if cfg.I2CBus == "" {
		return nil, errors.Errorf("motor %s has no i2c_bus", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	bus, ok := f.buses[cfg.I2CBus]
	if !ok {
		var err error
		bus, err = f.openBus(cfg.I2CBus)
		if err != nil {
			return nil, err
		}
		f.buses[cfg.I2CBus] = bus
	}
	return tic.Open(name, bus, byte(cfg.I2CAddr), f.logger.Sublogger(name))
}

// Close closes every bus opened so far.
func (f *TicDrivers) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	for name, bus := range f.buses {
		err = multierr.Combine(err, errors.Wrapf(bus.Close(ctx), "failed to close i2c bus %s", name))
	}
	f.buses = map[string]buses.I2C{}
	return err
}

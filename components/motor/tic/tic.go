// Package tic drives a Pololu Tic stepper controller over I2C.
//
// Only the subset of the Tic command set needed for position control is
// implemented. Multi-byte values are little-endian on the wire.
package tic

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/parascara/components/board/genericlinux/buses"
	"go.viam.com/parascara/components/motor"
	"go.viam.com/parascara/logging"
)

// Command bytes.
const (
	cmdEnergize           = 0x85
	cmdDeenergize         = 0x86
	cmdExitSafeStart      = 0x83
	cmdSetTargetPosition  = 0xE0
	cmdHaltAndSetPosition = 0xEC
	cmdSetMaxSpeed        = 0xE6
	cmdSetMaxAcceleration = 0xEA
	cmdSetMaxDeceleration = 0xE9
	cmdSetStepMode        = 0x94
	cmdSetCurrentLimit    = 0x91
	cmdGetVariable        = 0xA1
)

// Variable offsets for cmdGetVariable.
const (
	varTargetPosition  = 0x0A
	varCurrentPosition = 0x22
)

// Tic speeds are in microsteps per 10000 s and accelerations in microsteps per 100 s².
const (
	speedScale = 10000
	accelScale = 100

	maxSpeedLimit = 500000000
	minAccelLimit = 100
	maxAccelLimit = math.MaxInt32
)

var (
	_ motor.Driver             = &Driver{}
	_ motor.StepModeSetter     = &Driver{}
	_ motor.CurrentLimitSetter = &Driver{}
	_ motor.Closer             = &Driver{}
)

// Driver talks to one Tic at a fixed I2C address.
type Driver struct {
	name   string
	handle buses.I2CHandle
	logger logging.Logger

	mu sync.Mutex
}

// New returns a driver using handle. The driver owns the handle and closes it on Close.
func New(name string, handle buses.I2CHandle, logger logging.Logger) *Driver {
	return &Driver{name: name, handle: handle, logger: logger}
}

// Open reserves addr on bus and returns a driver for it.
func Open(name string, bus buses.I2C, addr byte, logger logging.Logger) (*Driver, error) {
	handle, err := bus.OpenHandle(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open tic (%s)", name)
	}
	return New(name, handle, logger), nil
}

func (d *Driver) quick(ctx context.Context, cmd byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrap(d.handle.Write(ctx, []byte{cmd}), cmd)
}

func (d *Driver) write7(ctx context.Context, cmd, value byte) error {
	if value > 0x7F {
		return errors.Errorf("tic (%s) command 0x%X value %d does not fit in 7 bits", d.name, cmd, value)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrap(d.handle.Write(ctx, []byte{cmd, value}), cmd)
}

func (d *Driver) write32(ctx context.Context, cmd byte, value uint32) error {
	buf := make([]byte, 5)
	buf[0] = cmd
	binary.LittleEndian.PutUint32(buf[1:], value)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrap(d.handle.Write(ctx, buf), cmd)
}

func (d *Driver) getInt32(ctx context.Context, offset byte) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.handle.Write(ctx, []byte{cmdGetVariable, offset}); err != nil {
		return 0, d.wrap(err, cmdGetVariable)
	}
	raw, err := d.handle.Read(ctx, 4)
	if err != nil {
		return 0, d.wrap(err, cmdGetVariable)
	}
	if len(raw) != 4 {
		return 0, errors.Errorf("tic (%s) returned %d bytes for variable 0x%X, expected 4", d.name, len(raw), offset)
	}
	return int32(binary.LittleEndian.Uint32(raw)), nil
}

func (d *Driver) wrap(err error, cmd byte) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "tic (%s) command 0x%X failed", d.name, cmd)
}

func toInt32(steps int64) (uint32, error) {
	if steps > math.MaxInt32 || steps < math.MinInt32 {
		return 0, errors.Errorf("step position %d does not fit in 32 bits", steps)
	}
	return uint32(int32(steps)), nil
}

// SetTargetPosition starts moving toward steps.
func (d *Driver) SetTargetPosition(ctx context.Context, steps int64) error {
	v, err := toInt32(steps)
	if err != nil {
		return err
	}
	return d.write32(ctx, cmdSetTargetPosition, v)
}

// TargetPosition reads the target position variable.
func (d *Driver) TargetPosition(ctx context.Context) (int64, error) {
	v, err := d.getInt32(ctx, varTargetPosition)
	return int64(v), err
}

// CurrentPosition reads the current position variable.
func (d *Driver) CurrentPosition(ctx context.Context) (int64, error) {
	v, err := d.getInt32(ctx, varCurrentPosition)
	return int64(v), err
}

// HaltAndSetPosition stops abruptly and redefines the current position.
func (d *Driver) HaltAndSetPosition(ctx context.Context, steps int64) error {
	v, err := toInt32(steps)
	if err != nil {
		return err
	}
	return d.write32(ctx, cmdHaltAndSetPosition, v)
}

// SetMaxSpeed sets the speed limit in microsteps per second.
func (d *Driver) SetMaxSpeed(ctx context.Context, stepsPerSec float64) error {
	v := math.Round(stepsPerSec * speedScale)
	if v < 0 || v > maxSpeedLimit {
		return errors.Errorf("tic (%s) max speed %v steps/s is out of range", d.name, stepsPerSec)
	}
	return d.write32(ctx, cmdSetMaxSpeed, uint32(v))
}

func (d *Driver) accelValue(stepsPerSec2 float64) (uint32, error) {
	v := math.Round(stepsPerSec2 * accelScale)
	if v < minAccelLimit || v > maxAccelLimit {
		return 0, errors.Errorf("tic (%s) acceleration %v steps/s² is out of range", d.name, stepsPerSec2)
	}
	return uint32(v), nil
}

// SetMaxAcceleration sets the acceleration limit in microsteps per second squared.
func (d *Driver) SetMaxAcceleration(ctx context.Context, stepsPerSec2 float64) error {
	v, err := d.accelValue(stepsPerSec2)
	if err != nil {
		return err
	}
	return d.write32(ctx, cmdSetMaxAcceleration, v)
}

// SetMaxDeceleration sets the deceleration limit in microsteps per second squared.
func (d *Driver) SetMaxDeceleration(ctx context.Context, stepsPerSec2 float64) error {
	v, err := d.accelValue(stepsPerSec2)
	if err != nil {
		return err
	}
	return d.write32(ctx, cmdSetMaxDeceleration, v)
}

// Energize powers the motor coils.
func (d *Driver) Energize(ctx context.Context) error {
	return d.quick(ctx, cmdEnergize)
}

// Deenergize releases the motor coils.
func (d *Driver) Deenergize(ctx context.Context) error {
	return d.quick(ctx, cmdDeenergize)
}

// ExitSafeStart allows motion after a safe start violation.
func (d *Driver) ExitSafeStart(ctx context.Context) error {
	return d.quick(ctx, cmdExitSafeStart)
}

// SetStepMode sets the microstep resolution.
func (d *Driver) SetStepMode(ctx context.Context, mode motor.StepMode) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	return d.write7(ctx, cmdSetStepMode, mode.Code())
}

// SetCurrentLimit sets the coil current limit code. Its meaning depends on the Tic model.
func (d *Driver) SetCurrentLimit(ctx context.Context, code uint8) error {
	return d.write7(ctx, cmdSetCurrentLimit, code)
}

// Close releases the I2C handle.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.logger != nil {
		d.logger.Debugw("closing tic", "name", d.name)
	}
	return d.handle.Close()
}

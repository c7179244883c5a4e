// Package fake implements an in-memory stepper driver.
//
// The driver can either advance a fixed number of steps every time its
// position is read, which keeps tests deterministic, or run a stepping thread
// at its configured speed for simulation.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/parascara/components/motor"
	"go.viam.com/parascara/logging"
)

const (
	minStepDelay  = 10 * time.Microsecond
	idleCycleWait = 5 * time.Millisecond
)

var (
	_ motor.Driver             = &Driver{}
	_ motor.StepModeSetter     = &Driver{}
	_ motor.CurrentLimitSetter = &Driver{}
	_ motor.Closer             = &Driver{}
)

// Call is one recorded driver command.
type Call struct {
	Method string
	Value  float64
}

// A Driver pretends to be a stepper driver.
type Driver struct {
	Name   string
	Logger logging.Logger
	// StepsPerRead is how far the motor advances each time CurrentPosition is read
	// while no stepping thread runs. Zero jumps straight to the target.
	StepsPerRead int64

	mu           sync.Mutex
	position     int64
	target       int64
	energized    bool
	stuck        bool
	closed       bool
	maxSpeed     float64
	maxAccel     float64
	maxDecel     float64
	stepMode     motor.StepMode
	currentLimit uint8
	calls        []Call
	errs         map[string]error

	threadStarted           bool
	cancelThread            context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewDriver returns a de-energized driver at step zero.
func NewDriver(name string, logger logging.Logger) *Driver {
	return &Driver{Name: name, Logger: logger}
}

// SetStuck makes the motor stop advancing, as if stalled.
func (d *Driver) SetStuck(stuck bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stuck = stuck
}

// SetError makes every later call to method fail with err. A nil err clears it.
func (d *Driver) SetError(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.errs == nil {
		d.errs = map[string]error{}
	}
	if err == nil {
		delete(d.errs, method)
		return
	}
	d.errs[method] = err
}

// Calls returns the commands received so far, position reads excluded.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsTo returns the recorded commands for method.
func (d *Driver) CallsTo(method string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets the recorded commands.
func (d *Driver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Energized reports whether the coils are powered.
func (d *Driver) Energized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.energized
}

// Limits returns the configured speed, acceleration and deceleration.
func (d *Driver) Limits() (speed, accel, decel float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxSpeed, d.maxAccel, d.maxDecel
}

// StepMode returns the last step mode set.
func (d *Driver) StepMode() motor.StepMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stepMode
}

// CurrentLimit returns the last current limit code set.
func (d *Driver) CurrentLimit() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentLimit
}

// has to be locked to call.
func (d *Driver) record(method string, value float64) error {
	if d.closed {
		return errors.Errorf("fake driver (%s) is closed", d.Name)
	}
	d.calls = append(d.calls, Call{Method: method, Value: value})
	return d.errs[method]
}

// SetTargetPosition sets the step position to move toward.
func (d *Driver) SetTargetPosition(ctx context.Context, steps int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetTargetPosition", float64(steps)); err != nil {
		return err
	}
	d.target = steps
	return nil
}

// TargetPosition returns the last target.
func (d *Driver) TargetPosition(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errs["TargetPosition"]; err != nil {
		return 0, err
	}
	return d.target, nil
}

// CurrentPosition returns the step counter, advancing it first when no thread runs.
func (d *Driver) CurrentPosition(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.errs["CurrentPosition"]; err != nil {
		return 0, err
	}
	if !d.threadStarted && d.canMove() {
		diff := d.target - d.position
		if d.StepsPerRead <= 0 || abs(diff) <= d.StepsPerRead {
			d.position = d.target
		} else if diff > 0 {
			d.position += d.StepsPerRead
		} else {
			d.position -= d.StepsPerRead
		}
	}
	return d.position, nil
}

// HaltAndSetPosition stops and redefines the current position.
func (d *Driver) HaltAndSetPosition(ctx context.Context, steps int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("HaltAndSetPosition", float64(steps)); err != nil {
		return err
	}
	d.position = steps
	d.target = steps
	return nil
}

// SetMaxSpeed sets the speed limit in microsteps per second.
func (d *Driver) SetMaxSpeed(ctx context.Context, stepsPerSec float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetMaxSpeed", stepsPerSec); err != nil {
		return err
	}
	d.maxSpeed = stepsPerSec
	return nil
}

// SetMaxAcceleration sets the acceleration limit in microsteps per second squared.
func (d *Driver) SetMaxAcceleration(ctx context.Context, stepsPerSec2 float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetMaxAcceleration", stepsPerSec2); err != nil {
		return err
	}
	d.maxAccel = stepsPerSec2
	return nil
}

// SetMaxDeceleration sets the deceleration limit in microsteps per second squared.
func (d *Driver) SetMaxDeceleration(ctx context.Context, stepsPerSec2 float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetMaxDeceleration", stepsPerSec2); err != nil {
		return err
	}
	d.maxDecel = stepsPerSec2
	return nil
}

// Energize powers the coils.
func (d *Driver) Energize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Energize", 0); err != nil {
		return err
	}
	d.energized = true
	return nil
}

// Deenergize releases the coils. The motor stops where it is.
func (d *Driver) Deenergize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Deenergize", 0); err != nil {
		return err
	}
	d.energized = false
	d.target = d.position
	return nil
}

// ExitSafeStart is recorded and otherwise ignored.
func (d *Driver) ExitSafeStart(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("ExitSafeStart", 0)
}

// SetStepMode records the microstep resolution.
func (d *Driver) SetStepMode(ctx context.Context, mode motor.StepMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetStepMode", float64(mode.Code())); err != nil {
		return err
	}
	d.stepMode = mode
	return nil
}

// SetCurrentLimit records the current limit code.
func (d *Driver) SetCurrentLimit(ctx context.Context, code uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("SetCurrentLimit", float64(code)); err != nil {
		return err
	}
	d.currentLimit = code
	return nil
}

// Close stops the stepping thread. Later commands fail.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancelThread
	d.closed = true
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.activeBackgroundWorkers.Wait()
	return nil
}

// has to be locked to call.
func (d *Driver) canMove() bool {
	return d.energized && !d.stuck && !d.closed
}

// Start runs a thread that steps toward the target at the configured max speed.
// Position reads no longer advance the motor on their own.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.threadStarted {
		return
	}

	if d.Logger != nil {
		d.Logger.Debugw("starting simulated stepping", "name", d.Name, "max_speed", d.maxSpeed)
	}
	d.threadStarted = true
	ctx, d.cancelThread = context.WithCancel(ctx)
	d.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		d.doRun(ctx)
	}, d.activeBackgroundWorkers.Done)
}

func (d *Driver) doRun(ctx context.Context) {
	for {
		sleep := d.doCycle()
		if !utils.SelectContextOrWait(ctx, sleep) {
			return
		}
	}
}

func (d *Driver) doCycle() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	// wait until something changes the target position
	if d.position == d.target || !d.canMove() || d.maxSpeed <= 0 {
		return idleCycleWait
	}

	if d.position < d.target {
		d.position++
	} else {
		d.position--
	}

	delay := time.Duration(float64(time.Second) / d.maxSpeed)
	if delay < minStepDelay {
		delay = minStepDelay
	}
	return delay
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

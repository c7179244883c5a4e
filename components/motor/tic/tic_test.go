package tic

import (
	"context"
	"testing"

	"go.viam.com/test"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"go.viam.com/parascara/components/board/genericlinux/buses"
	"go.viam.com/parascara/components/motor"
	"go.viam.com/parascara/logging"
)

const ticAddr = 14

func newPlaybackDriver(t *testing.T, ops ...i2ctest.IO) (*Driver, *i2ctest.Playback) {
	t.Helper()
	playback := &i2ctest.Playback{DontPanic: true, Ops: ops}
	bus := buses.NewI2cBusFromConn("1", playback)
	d, err := Open("left", bus, ticAddr, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return d, playback
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	d, playback := newPlaybackDriver(t,
		i2ctest.IO{Addr: ticAddr, W: []byte{0x86}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0x94, 0x02}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0x91, 0x09}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0xE6, 0x00, 0x12, 0x7A, 0x00}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0xEA, 0x80, 0x1A, 0x06, 0x00}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0xE9, 0x80, 0x1A, 0x06, 0x00}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0xEC, 0x90, 0x01, 0x00, 0x00}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0x83}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0x85}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0xE0, 0xFE, 0xFF, 0xFF, 0xFF}},
	)

	test.That(t, d.Deenergize(ctx), test.ShouldBeNil)
	test.That(t, d.SetStepMode(ctx, motor.StepMode4), test.ShouldBeNil)
	test.That(t, d.SetCurrentLimit(ctx, 9), test.ShouldBeNil)
	test.That(t, d.SetMaxSpeed(ctx, 800), test.ShouldBeNil)
	test.That(t, d.SetMaxAcceleration(ctx, 4000), test.ShouldBeNil)
	test.That(t, d.SetMaxDeceleration(ctx, 4000), test.ShouldBeNil)
	test.That(t, d.HaltAndSetPosition(ctx, 400), test.ShouldBeNil)
	test.That(t, d.ExitSafeStart(ctx), test.ShouldBeNil)
	test.That(t, d.Energize(ctx), test.ShouldBeNil)
	test.That(t, d.SetTargetPosition(ctx, -2), test.ShouldBeNil)

	test.That(t, d.Close(ctx), test.ShouldBeNil)
	test.That(t, playback.Close(), test.ShouldBeNil)
}

func TestGetVariables(t *testing.T) {
	ctx := context.Background()
	d, playback := newPlaybackDriver(t,
		i2ctest.IO{Addr: ticAddr, W: []byte{0xA1, 0x22}},
		i2ctest.IO{Addr: ticAddr, R: []byte{0x9C, 0xFF, 0xFF, 0xFF}},
		i2ctest.IO{Addr: ticAddr, W: []byte{0xA1, 0x0A}},
		i2ctest.IO{Addr: ticAddr, R: []byte{0x10, 0x27, 0x00, 0x00}},
	)

	current, err := d.CurrentPosition(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, current, test.ShouldEqual, int64(-100))

	target, err := d.TargetPosition(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target, test.ShouldEqual, int64(10000))

	test.That(t, playback.Close(), test.ShouldBeNil)
}

func TestOutOfRange(t *testing.T) {
	ctx := context.Background()
	d, playback := newPlaybackDriver(t)

	test.That(t, d.SetCurrentLimit(ctx, 200), test.ShouldNotBeNil)
	test.That(t, d.SetStepMode(ctx, motor.StepMode(9)), test.ShouldNotBeNil)
	test.That(t, d.SetMaxSpeed(ctx, -1), test.ShouldNotBeNil)
	test.That(t, d.SetMaxSpeed(ctx, 1e6), test.ShouldNotBeNil)
	test.That(t, d.SetMaxAcceleration(ctx, 0.5), test.ShouldNotBeNil)
	test.That(t, d.SetMaxDeceleration(ctx, 1e8), test.ShouldNotBeNil)
	test.That(t, d.SetTargetPosition(ctx, 1<<40), test.ShouldNotBeNil)
	test.That(t, d.HaltAndSetPosition(ctx, -(1<<40)), test.ShouldNotBeNil)

	// nothing reached the bus
	test.That(t, playback.Count, test.ShouldEqual, 0)
}

func TestBusErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	d, _ := newPlaybackDriver(t, i2ctest.IO{Addr: ticAddr, W: []byte{0x85}})

	err := d.Deenergize(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "tic (left) command 0x86 failed")

	_, err = d.CurrentPosition(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "command 0xA1 failed")
}

func TestOpenTwice(t *testing.T) {
	bus := buses.NewI2cBusFromConn("1", &i2ctest.Playback{DontPanic: true})
	d, err := Open("left", bus, ticAddr, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	_, err = Open("right", bus, ticAddr, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, d.Close(context.Background()), test.ShouldBeNil)
	_, err = Open("right", bus, ticAddr, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
}

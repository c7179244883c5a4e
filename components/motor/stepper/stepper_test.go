package stepper

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/parascara/components/motor"
	"go.viam.com/parascara/components/motor/fake"
	"go.viam.com/parascara/logging"
	"go.viam.com/parascara/units"
)

func newTestAxis(t *testing.T, cfg Config, opts ...Option) (*Axis, *fake.Driver) {
	t.Helper()
	d := fake.NewDriver("left", logging.NewTestLogger(t))
	a, err := New(context.Background(), "left", d, cfg, logging.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return a, d
}

func TestWrapDeg(t *testing.T) {
	for _, tc := range []struct {
		in        float64
		clockwise bool
		out       float64
	}{
		{0, true, 0},
		{10, true, 10},
		{370, true, 10},
		{-10, true, 350},
		{360, true, 0},
		{-720, true, 0},
		{0, false, 0},
		{10, false, -350},
		{-10, false, -10},
		{-370, false, -10},
		{-360, false, 0},
		{720, false, 0},
	} {
		got := WrapDeg(tc.in, tc.clockwise)
		test.That(t, got, test.ShouldAlmostEqual, tc.out)
		if tc.clockwise {
			test.That(t, got, test.ShouldBeGreaterThanOrEqualTo, 0.0)
			test.That(t, got, test.ShouldBeLessThan, 360.0)
		} else {
			test.That(t, got, test.ShouldBeLessThanOrEqualTo, 0.0)
			test.That(t, got, test.ShouldBeGreaterThan, -360.0)
		}
	}
}

func TestNewConfiguresDriver(t *testing.T) {
	limit := uint8(9)
	a, d := newTestAxis(t, Config{StepMode: motor.StepMode4, CurrentLimit: &limit})

	test.That(t, a.DegreesPerMicrostep(), test.ShouldAlmostEqual, 0.45)
	test.That(t, a.MicrostepsPerRevolution(), test.ShouldEqual, int64(800))
	test.That(t, a.State(), test.ShouldEqual, StateDeenergized)

	test.That(t, d.Energized(), test.ShouldBeFalse)
	test.That(t, d.StepMode(), test.ShouldEqual, motor.StepMode4)
	test.That(t, d.CurrentLimit(), test.ShouldEqual, limit)
	speed, accel, decel := d.Limits()
	test.That(t, speed, test.ShouldAlmostEqual, 800.0)
	test.That(t, accel, test.ShouldAlmostEqual, 4000.0)
	test.That(t, decel, test.ShouldAlmostEqual, 4000.0)

	degPerSec, degPerSec2 := a.Limits()
	test.That(t, degPerSec, test.ShouldEqual, DefaultMaxDegPerSec)
	test.That(t, degPerSec2, test.ShouldEqual, DefaultMaxAccDegPerSec2)
}

func TestGearRatio(t *testing.T) {
	a, _ := newTestAxis(t, Config{StepMode: motor.StepModeHalf, GearRatio: 3})
	test.That(t, a.DegreesPerMicrostep(), test.ShouldAlmostEqual, 0.3)
	test.That(t, a.MicrostepsPerRevolution(), test.ShouldEqual, int64(1200))
}

func TestConfigValidate(t *testing.T) {
	test.That(t, Config{}.Validate(), test.ShouldBeNil)
	test.That(t, Config{GearRatio: -1}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{MaxDegPerSec: math.NaN()}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{StepMode: motor.StepMode(9)}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{StallTimeout: -time.Second}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{GearRatio: 0.002}.Validate(), test.ShouldNotBeNil)
	test.That(t, Config{GearRatio: 0.01}.Validate(), test.ShouldBeNil)

	_, err := New(context.Background(), "bad", fake.NewDriver("bad", nil), Config{DegreesPerStep: -1.8}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "degrees_per_step")

	// a step coarser than two revolutions would round to zero microsteps per revolution
	_, err = New(context.Background(), "coarse", fake.NewDriver("coarse", nil), Config{GearRatio: 0.002}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "microsteps per revolution")
}

func TestCoarsestResolution(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAxis(t, Config{GearRatio: 0.01})
	test.That(t, a.MicrostepsPerRevolution(), test.ShouldEqual, int64(2))
	test.That(t, a.ResetPosition(ctx, 180*units.Degree), test.ShouldBeNil)
	angle, err := a.CurrentAngle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angle.Degrees(), test.ShouldAlmostEqual, 180.0)
}

func TestMoveRequiresReset(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{})

	_, err := a.PlanClosestDirection(ctx, 10*units.Degree)
	test.That(t, errors.Is(err, ErrNotEnergized), test.ShouldBeTrue)
	err = a.MoveToAngleClosestDirection(ctx, 10*units.Degree, MoveOptions{})
	test.That(t, errors.Is(err, ErrNotEnergized), test.ShouldBeTrue)
	err = a.BlockUntilReached(ctx)
	test.That(t, errors.Is(err, ErrNotEnergized), test.ShouldBeTrue)
	test.That(t, d.CallsTo("SetTargetPosition"), test.ShouldBeEmpty)

	moving, err := a.IsMoving(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, moving, test.ShouldBeFalse)
}

func TestResetPosition(t *testing.T) {
	ctx := context.Background()

	t.Run("forward", func(t *testing.T) {
		a, d := newTestAxis(t, Config{StepMode: motor.StepMode4})
		d.ResetCalls()
		test.That(t, a.ResetPosition(ctx, 90*units.Degree), test.ShouldBeNil)

		calls := d.Calls()
		test.That(t, calls, test.ShouldResemble, []fake.Call{
			{Method: "HaltAndSetPosition", Value: 200},
			{Method: "ExitSafeStart"},
			{Method: "Energize"},
		})
		test.That(t, a.State(), test.ShouldEqual, StateIdle)

		angle, err := a.CurrentAngle(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angle.Degrees(), test.ShouldAlmostEqual, 90.0)
	})

	t.Run("wraps negative angles", func(t *testing.T) {
		a, d := newTestAxis(t, Config{StepMode: motor.StepMode4})
		test.That(t, a.ResetPosition(ctx, -90*units.Degree), test.ShouldBeNil)
		test.That(t, d.CallsTo("HaltAndSetPosition"), test.ShouldResemble, []fake.Call{{Method: "HaltAndSetPosition", Value: 600}})
	})

	t.Run("reversed", func(t *testing.T) {
		a, d := newTestAxis(t, Config{StepMode: motor.StepMode4, Reversed: true})
		test.That(t, a.ResetPosition(ctx, 90*units.Degree), test.ShouldBeNil)
		test.That(t, d.CallsTo("HaltAndSetPosition"), test.ShouldResemble, []fake.Call{{Method: "HaltAndSetPosition", Value: -200}})

		steps, err := a.CurrentSteps(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, steps, test.ShouldEqual, int64(200))
		angle, err := a.CurrentAngle(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angle.Degrees(), test.ShouldAlmostEqual, 90.0)
	})
}

func TestPlanClosestDirection(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{StepMode: motor.StepMode4})
	test.That(t, a.ResetPosition(ctx, 90*units.Degree), test.ShouldBeNil)
	d.ResetCalls()

	plan, err := a.PlanClosestDirection(ctx, 300*units.Degree)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plan.Clockwise, test.ShouldBeFalse)
	test.That(t, plan.Travel.Degrees(), test.ShouldAlmostEqual, -150.0)
	test.That(t, plan.FromSteps, test.ShouldEqual, int64(200))
	test.That(t, plan.TargetSteps, test.ShouldEqual, int64(200-333))

	plan, err = a.PlanClosestDirection(ctx, 100*units.Degree)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plan.Clockwise, test.ShouldBeTrue)
	test.That(t, plan.TargetSteps, test.ShouldEqual, int64(222))

	// planning does not command the driver
	test.That(t, d.CallsTo("SetTargetPosition"), test.ShouldBeEmpty)
}

func TestPlanTieGoesClockwise(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAxis(t, Config{})
	test.That(t, a.ResetPosition(ctx, 0), test.ShouldBeNil)

	plan, err := a.PlanClosestDirection(ctx, 180*units.Degree)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plan.Clockwise, test.ShouldBeTrue)
	test.That(t, plan.Travel.Degrees(), test.ShouldAlmostEqual, 180.0)
	test.That(t, plan.TargetSteps, test.ShouldEqual, int64(100))
}

func TestPlanNeverExceedsHalfTurn(t *testing.T) {
	ctx := context.Background()
	for _, start := range []float64{0, 45, 179, 180, 270, 359.1} {
		a, _ := newTestAxis(t, Config{StepMode: motor.StepMode8})
		test.That(t, a.ResetPosition(ctx, units.Angle(start)*units.Degree), test.ShouldBeNil)
		for target := -400.0; target <= 400; target += 13 {
			plan, err := a.PlanClosestDirection(ctx, units.Angle(target)*units.Degree)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, math.Abs(plan.Travel.Degrees()), test.ShouldBeLessThanOrEqualTo, 180.0)
			travelSteps := math.Abs(float64(plan.TargetSteps - plan.FromSteps))
			test.That(t, travelSteps*a.DegreesPerMicrostep(), test.ShouldBeLessThanOrEqualTo, 180+a.DegreesPerMicrostep())
		}
	}
}

func TestMoveToAngleFixedDirection(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{})
	test.That(t, a.ResetPosition(ctx, 90*units.Degree), test.ShouldBeNil)

	test.That(t, a.MoveToAngle(ctx, 81*units.Degree, true, MoveOptions{}), test.ShouldBeNil)
	target, err := d.TargetPosition(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target, test.ShouldEqual, int64(50+195))

	test.That(t, a.BlockUntilReached(ctx), test.ShouldBeNil)
	test.That(t, a.MoveToAngle(ctx, 90*units.Degree, false, MoveOptions{}), test.ShouldBeNil)
	target, err = d.TargetPosition(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target, test.ShouldEqual, int64(245-195))
}

func TestReversedMove(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{StepMode: motor.StepMode4, Reversed: true})
	test.That(t, a.ResetPosition(ctx, 90*units.Degree), test.ShouldBeNil)

	test.That(t, a.MoveToAngleClosestDirection(ctx, 100*units.Degree, MoveOptions{}), test.ShouldBeNil)
	test.That(t, d.CallsTo("SetTargetPosition"), test.ShouldResemble, []fake.Call{{Method: "SetTargetPosition", Value: -222}})

	test.That(t, a.BlockUntilReached(ctx), test.ShouldBeNil)
	angle, err := a.CurrentAngle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angle.Degrees(), test.ShouldAlmostEqual, 99.9, 0.01)
}

func TestCommitAppliesOptions(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{StepMode: motor.StepMode4})
	test.That(t, a.ResetPosition(ctx, 0), test.ShouldBeNil)
	d.ResetCalls()

	speed := 90.0
	accel := 450.0
	test.That(t, a.MoveToAngleClosestDirection(ctx, 45*units.Degree, MoveOptions{MaxDegPerSec: &speed, MaxAccDegPerSec2: &accel}), test.ShouldBeNil)

	calls := d.Calls()
	test.That(t, calls, test.ShouldHaveLength, 4)
	test.That(t, calls[0].Method, test.ShouldEqual, "SetMaxSpeed")
	test.That(t, calls[0].Value, test.ShouldAlmostEqual, 200.0)
	test.That(t, calls[1].Method, test.ShouldEqual, "SetMaxAcceleration")
	test.That(t, calls[1].Value, test.ShouldAlmostEqual, 1000.0)
	test.That(t, calls[2].Method, test.ShouldEqual, "SetMaxDeceleration")
	test.That(t, calls[3], test.ShouldResemble, fake.Call{Method: "SetTargetPosition", Value: 100})

	degPerSec, degPerSec2 := a.Limits()
	test.That(t, degPerSec, test.ShouldEqual, speed)
	test.That(t, degPerSec2, test.ShouldEqual, accel)

	bad := 0.0
	err := a.MoveToAngleClosestDirection(ctx, 90*units.Degree, MoveOptions{MaxDegPerSec: &bad})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, d.CallsTo("SetTargetPosition"), test.ShouldHaveLength, 1)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{})
	test.That(t, a.ResetPosition(ctx, 0), test.ShouldBeNil)
	d.SetStuck(true)

	first, err := a.PlanClosestDirection(ctx, 18*units.Degree)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Commit(ctx, first, MoveOptions{}), test.ShouldBeNil)

	second, err := a.PlanClosestDirection(ctx, 36*units.Degree)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Commit(ctx, second, MoveOptions{}), test.ShouldBeNil)
	target, err := d.TargetPosition(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target, test.ShouldEqual, int64(20))

	test.That(t, a.Rollback(ctx, second), test.ShouldBeNil)
	target, err = d.TargetPosition(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target, test.ShouldEqual, int64(10))
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{StepMode: motor.StepMode4})
	d.StepsPerRead = 50
	test.That(t, a.ResetPosition(ctx, 0), test.ShouldBeNil)

	test.That(t, a.MoveToAngleClosestDirection(ctx, 90*units.Degree, MoveOptions{}), test.ShouldBeNil)
	test.That(t, a.State(), test.ShouldEqual, StateMoving)

	moving, err := a.IsMoving(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, moving, test.ShouldBeTrue)

	test.That(t, a.BlockUntilReached(ctx), test.ShouldBeNil)
	test.That(t, a.State(), test.ShouldEqual, StateIdle)
	moving, err = a.IsMoving(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, moving, test.ShouldBeFalse)

	angle, err := a.CurrentAngle(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, angle.Degrees(), test.ShouldAlmostEqual, 90.0)

	// a move to where the axis already is stays idle
	test.That(t, a.MoveToAngleClosestDirection(ctx, 90*units.Degree, MoveOptions{}), test.ShouldBeNil)
	test.That(t, a.State(), test.ShouldEqual, StateIdle)
}

func TestBlockUntilReachedStall(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	a, d := newTestAxis(t, Config{StallTimeout: 3 * time.Second}, WithClock(mock))
	test.That(t, a.ResetPosition(ctx, 0), test.ShouldBeNil)
	d.SetStuck(true)
	test.That(t, a.MoveToAngleClosestDirection(ctx, 90*units.Degree, MoveOptions{}), test.ShouldBeNil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.BlockUntilReached(ctx)
	}()

	var err error
	for done := false; !done; {
		select {
		case err = <-errCh:
			done = true
		default:
			mock.Add(500 * time.Millisecond)
		}
	}
	test.That(t, errors.Is(err, ErrMotionTimeout), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "axis (left)")
	test.That(t, mock.Now().Sub(time.Unix(0, 0)), test.ShouldBeGreaterThanOrEqualTo, 3*time.Second)
}

func TestBlockUntilReachedProgressResetsStall(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	a, d := newTestAxis(t, Config{StallTimeout: 2 * time.Second}, WithClock(mock))
	d.StepsPerRead = 1
	test.That(t, a.ResetPosition(ctx, 0), test.ShouldBeNil)
	test.That(t, a.MoveToAngleClosestDirection(ctx, 36*units.Degree, MoveOptions{}), test.ShouldBeNil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.BlockUntilReached(ctx)
	}()

	// each poll moves a step, so a slow but steady motor never times out
	var err error
	for done := false; !done; {
		select {
		case err = <-errCh:
			done = true
		default:
			mock.Add(time.Second)
		}
	}
	test.That(t, err, test.ShouldBeNil)
	steps, err := a.CurrentSteps(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, steps, test.ShouldEqual, int64(20))
}

func TestBlockUntilReachedCancel(t *testing.T) {
	a, d := newTestAxis(t, Config{})
	test.That(t, a.ResetPosition(context.Background(), 0), test.ShouldBeNil)
	d.SetStuck(true)
	test.That(t, a.MoveToAngleClosestDirection(context.Background(), 90*units.Degree, MoveOptions{}), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.BlockUntilReached(ctx)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}

func TestDriverErrorsAreWrapped(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{})
	test.That(t, a.ResetPosition(ctx, 0), test.ShouldBeNil)

	d.SetError("CurrentPosition", errors.New("bus fault"))
	_, err := a.CurrentAngle(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to read position of axis (left): bus fault")

	err = a.BlockUntilReached(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bus fault")
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{})
	test.That(t, a.ResetPosition(ctx, 0), test.ShouldBeNil)
	test.That(t, d.Energized(), test.ShouldBeTrue)

	test.That(t, a.Close(ctx), test.ShouldBeNil)
	test.That(t, d.Energized(), test.ShouldBeFalse)
	test.That(t, a.State(), test.ShouldEqual, StateDeenergized)
	test.That(t, a.Close(ctx), test.ShouldBeNil)

	err := a.ResetPosition(ctx, 0)
	test.That(t, errors.Is(err, ErrAxisClosed), test.ShouldBeTrue)
	_, err = a.IsMoving(ctx)
	test.That(t, errors.Is(err, ErrAxisClosed), test.ShouldBeTrue)
	_, err = a.CurrentAngle(ctx)
	test.That(t, errors.Is(err, ErrAxisClosed), test.ShouldBeTrue)
	err = a.BlockUntilReached(ctx)
	test.That(t, errors.Is(err, ErrAxisClosed), test.ShouldBeTrue)
}

func TestCloseReportsDeenergizeFailure(t *testing.T) {
	ctx := context.Background()
	a, d := newTestAxis(t, Config{})
	d.SetError("Deenergize", errors.New("no ack"))

	err := a.Close(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no ack")
	err = a.ResetPosition(ctx, 0)
	test.That(t, errors.Is(err, ErrAxisClosed), test.ShouldBeTrue)
}

package cli

import (
	"bufio"
	"context"
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/parascara/components/arm/fivebar"
	"go.viam.com/parascara/components/motor"
	"go.viam.com/parascara/components/motor/fake"
	"go.viam.com/parascara/config"
	"go.viam.com/parascara/kinematics"
	"go.viam.com/parascara/logging"
	"go.viam.com/parascara/teleop"
	"go.viam.com/parascara/units"
	"go.viam.com/parascara/workspace"
)

const defaultSweepInterval = 5 * time.Millisecond

var allInverseModes = []kinematics.InverseMode{
	kinematics.InversePlusPlus,
	kinematics.InversePlusMinus,
	kinematics.InverseMinusPlus,
	kinematics.InverseMinusMinus,
}

// rig is everything derived from the config that does not need the motors.
type rig struct {
	cfg     *config.Config
	unit    units.Length
	solver  *kinematics.Solver
	checker workspace.Checker
}

func loadRig(c *cli.Context) (*rig, error) {
	logger := loggerFrom(c)
	cfg, err := config.Read(c.Context, c.String(flagConfig), logger)
	if err != nil {
		return nil, err
	}
	unit, err := units.ParseLengthUnit(cfg.Geometry.Unit)
	if err != nil {
		return nil, err
	}
	g, err := cfg.Geometry.LinkageGeometry()
	if err != nil {
		return nil, err
	}
	solver, err := kinematics.NewSolver(g)
	if err != nil {
		return nil, err
	}
	checker, err := cfg.Workspace.NewChecker(g, logger.Sublogger("workspace"))
	if err != nil {
		return nil, err
	}
	return &rig{cfg: cfg, unit: unit, solver: solver, checker: checker}, nil
}

// openArm connects both motors and resets them to the home angles. The returned
// func releases the arm and any buses it opened.
func (r *rig) openArm(c *cli.Context, logger logging.Logger) (*fivebar.Arm, func(context.Context) error, error) {
	var newDriver fivebar.DriverFactory
	closeDrivers := func(context.Context) error { return nil }
	if c.Bool(flagSim) {
		newDriver = func(ctx context.Context, name string, _ config.MotorConfig) (motor.Driver, error) {
			d := fake.NewDriver(name, logger.Sublogger(name))
			d.Start(ctx)
			return d, nil
		}
	} else {
		tics := fivebar.NewTicDrivers(logger)
		newDriver = tics.Driver
		closeDrivers = tics.Close
	}

	arm, err := fivebar.NewFromConfig(c.Context, r.cfg, newDriver, logger)
	if err != nil {
		return nil, nil, multierr.Combine(err, closeDrivers(c.Context))
	}
	closeAll := func(ctx context.Context) error {
		return multierr.Combine(arm.Close(ctx), closeDrivers(ctx))
	}

	left := units.Angle(c.Float64(flagHomeLeft)) * units.Degree
	right := units.Angle(c.Float64(flagHomeRight)) * units.Degree
	if err := arm.ResetAngles(c.Context, left, right); err != nil {
		return nil, nil, multierr.Combine(err, closeAll(c.Context))
	}
	return arm, closeAll, nil
}

func (r *rig) position(x, y float64) units.Position {
	return units.NewPosition(x, y, r.unit)
}

func floatArgs(c *cli.Context, names ...string) ([]float64, error) {
	if c.Args().Len() != len(names) {
		return nil, errors.Errorf("expected %d arguments <%s>, got %d",
			len(names), strings.Join(names, "> <"), c.Args().Len())
	}
	vals := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(c.Args().Get(i), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s", name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("invalid %s %q, must be a finite number", name, c.Args().Get(i))
		}
		vals[i] = v
	}
	return vals, nil
}

func moveOptions(c *cli.Context) fivebar.MoveOptions {
	opts := fivebar.MoveOptions{Mode: kinematics.InverseMode(c.String(flagMode))}
	if c.IsSet(flagSpeed) {
		speed := c.Float64(flagSpeed)
		opts.MaxDegPerSec = &speed
	}
	if c.IsSet(flagAccel) {
		accel := c.Float64(flagAccel)
		opts.MaxAccDegPerSec2 = &accel
	}
	return opts
}

func degrees(a units.Angle) string {
	return fmt.Sprintf("%.2f", a.Degrees())
}

func printTable(w io.Writer, header table.Row, rows []table.Row) {
	t := table.NewWriter()
	t.AppendHeader(header)
	for _, row := range rows {
		t.AppendRow(row)
	}
	fmt.Fprintln(w, t.Render())
}

// InverseAction is the corresponding Action for 'ik'.
func InverseAction(c *cli.Context) error {
	vals, err := floatArgs(c, "x", "y")
	if err != nil {
		return err
	}
	r, err := loadRig(c)
	if err != nil {
		return err
	}
	modes := allInverseModes
	if m := c.String(flagMode); m != "" {
		modes = []kinematics.InverseMode{kinematics.InverseMode(m)}
	}

	states, err := r.solver.SolveInverse(r.position(vals[0], vals[1]), modes...)
	if err != nil {
		return err
	}
	rows := make([]table.Row, 0, len(states))
	for i, state := range states {
		rows = append(rows, table.Row{
			modes[i],
			degrees(state.LeftBaseAngle),
			degrees(state.RightBaseAngle),
			degrees(workspace.LinkAngle(state)),
			r.checker.IsStateValid(state),
		})
	}
	printTable(c.App.Writer, table.Row{"Mode", "Left", "Right", "Link angle", "Valid"}, rows)
	return nil
}

// ForwardAction is the corresponding Action for 'fk'.
func ForwardAction(c *cli.Context) error {
	vals, err := floatArgs(c, "left-deg", "right-deg")
	if err != nil {
		return err
	}
	r, err := loadRig(c)
	if err != nil {
		return err
	}
	mode := kinematics.ForwardMode(c.String(flagMode))
	left, right := units.Angle(vals[0])*units.Degree, units.Angle(vals[1])*units.Degree
	states, err := r.solver.SolveForward(left, right, mode)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(c.App.Writer, "the links cannot meet at these base angles")
		return nil
	}
	// a single mode letter hides whether the links are tangent, so ask for both
	both, err := r.solver.SolveForward(left, right, kinematics.ForwardInwardOutward)
	if err != nil {
		return err
	}
	tangent := len(both) == 1
	rows := make([]table.Row, 0, len(states))
	for i, state := range states {
		solution := "outward"
		switch {
		case tangent:
			solution = "tangent"
		case mode[i] == 'i':
			solution = "inward"
		}
		x, y := state.EndEffector.In(r.unit)
		rows = append(rows, table.Row{
			solution,
			fmt.Sprintf("%.3f", x),
			fmt.Sprintf("%.3f", y),
			degrees(workspace.LinkAngle(state)),
			r.checker.IsStateValid(state),
		})
	}
	printTable(c.App.Writer, table.Row{"Solution", "X", "Y", "Link angle", "Valid"}, rows)
	return nil
}

// CheckAction is the corresponding Action for 'check'.
func CheckAction(c *cli.Context) error {
	vals, err := floatArgs(c, "x", "y")
	if err != nil {
		return err
	}
	r, err := loadRig(c)
	if err != nil {
		return err
	}
	mode := kinematics.InverseMode(c.String(flagMode))
	pos := r.position(vals[0], vals[1])
	states, err := r.solver.SolveInverse(pos, mode)
	switch {
	case errors.Is(err, kinematics.ErrInvalidMode):
		return err
	case err != nil:
		fmt.Fprintf(c.App.Writer, "%v is unreachable: %v\n", pos, err)
	case r.checker.IsStateValid(states[0]):
		fmt.Fprintf(c.App.Writer, "%v is valid, link angle %s\n", pos, degrees(workspace.LinkAngle(states[0])))
	default:
		fmt.Fprintf(c.App.Writer, "%v is outside the workspace, link angle %s\n", pos, degrees(workspace.LinkAngle(states[0])))
	}
	return nil
}

// WorkspaceAction is the corresponding Action for 'workspace'. It prints one
// character per grid point, farthest row first.
func WorkspaceAction(c *cli.Context) error {
	r, err := loadRig(c)
	if err != nil {
		return err
	}
	mode := kinematics.InverseMode(c.String(flagMode))
	if err := mode.Validate(); err != nil {
		return err
	}
	step := units.Length(c.Float64(flagStep)) * r.unit
	if step <= 0 {
		return errors.Errorf("%s must be positive", flagStep)
	}

	g := r.solver.Geometry()
	reach := math.Max(float64(g.LeftBase+g.LeftLink), float64(g.RightBase+g.RightLink))
	minX, maxX := -reach, float64(g.AxisDistance)+reach

	var sb strings.Builder
	var valid, rejected plotter.XYs
	for y := reach; y >= 0; y -= float64(step) {
		var line strings.Builder
		for x := minX; x <= maxX; x += float64(step) {
			pos := units.Position{X: units.Length(x), Y: units.Length(y)}
			point := plotter.XY{X: pos.X.In(r.unit), Y: pos.Y.In(r.unit)}
			states, err := r.solver.SolveInverse(pos, mode)
			switch {
			case err != nil:
				line.WriteByte(' ')
			case r.checker.IsStateValid(states[0]):
				line.WriteByte('#')
				valid = append(valid, point)
			default:
				line.WriteByte('.')
				rejected = append(rejected, point)
			}
		}
		sb.WriteString(strings.TrimRight(line.String(), " "))
		sb.WriteByte('\n')
	}
	fmt.Fprint(c.App.Writer, sb.String())
	fmt.Fprintf(c.App.Writer, "# valid  . rejected by the workspace checker  (one cell is %v)\n", step)

	if path := c.String(flagPNG); path != "" {
		return savePlot(path, fmt.Sprintf("workspace, mode %s", mode), valid, rejected)
	}
	return nil
}

func savePlot(path, title string, valid, rejected plotter.XYs) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	for _, series := range []struct {
		name  string
		xys   plotter.XYs
		color color.Color
	}{
		{"valid", valid, color.RGBA{G: 160, A: 255}},
		{"rejected", rejected, color.RGBA{R: 200, A: 255}},
	} {
		if len(series.xys) == 0 {
			continue
		}
		scatter, err := plotter.NewScatter(series.xys)
		if err != nil {
			return err
		}
		scatter.GlyphStyle.Color = series.color
		scatter.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(scatter)
		p.Legend.Add(series.name, scatter)
	}
	return errors.Wrapf(p.Save(6*vg.Inch, 6*vg.Inch, path), "failed to save plot to %s", path)
}

func printCurrent(ctx context.Context, w io.Writer, arm *fivebar.Arm) error {
	left, right, err := arm.CurrentAngles(ctx)
	if err != nil {
		return err
	}
	states, err := arm.CurrentState(ctx, kinematics.DefaultForwardMode)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintf(w, "base angles %s %s\n", degrees(left), degrees(right))
		return nil
	}
	fmt.Fprintf(w, "at %v, base angles %s %s\n", states[0].EndEffector, degrees(left), degrees(right))
	return nil
}

// MoveAction is the corresponding Action for 'move'.
func MoveAction(c *cli.Context) (err error) {
	vals, err := floatArgs(c, "x", "y")
	if err != nil {
		return err
	}
	r, err := loadRig(c)
	if err != nil {
		return err
	}
	logger := loggerFrom(c)
	arm, closeArm, err := r.openArm(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeArm(context.Background()))
	}()

	if err := arm.MoveToPositionBlocking(c.Context, r.position(vals[0], vals[1]), moveOptions(c)); err != nil {
		return err
	}
	return printCurrent(c.Context, c.App.Writer, arm)
}

// SweepAction is the corresponding Action for 'sweep'. Targets are sent without
// waiting so the arm moves continuously; targets the workspace rejects are skipped.
func SweepAction(c *cli.Context) (err error) {
	points := c.Int(flagPoints)
	if points < 2 {
		return errors.Errorf("%s must be at least 2", flagPoints)
	}
	r, err := loadRig(c)
	if err != nil {
		return err
	}
	logger := loggerFrom(c)
	arm, closeArm, err := r.openArm(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeArm(context.Background()))
	}()

	xs := floats.Span(make([]float64, points), c.Float64(flagFrom), c.Float64(flagTo))
	y := c.Float64(flagY)
	opts := moveOptions(c)
	skipped := 0
	for pass := 0; pass < c.Int(flagPasses); pass++ {
		for i := range xs {
			x := xs[i]
			if pass%2 == 1 {
				x = xs[len(xs)-1-i]
			}
			err := arm.MoveToPosition(c.Context, r.position(x, y), opts)
			switch {
			case errors.Is(err, fivebar.ErrOutsideWorkspace), errors.Is(err, kinematics.ErrUnreachableTarget):
				logger.Debugw("skipping sweep target", "x", x, "y", y, "error", err)
				skipped++
				continue
			case err != nil:
				return err
			}
			if i == 0 {
				if err := arm.BlockUntilReached(c.Context); err != nil {
					return err
				}
			}
			if !utils.SelectContextOrWait(c.Context, c.Duration(flagInterval)) {
				return c.Context.Err()
			}
		}
		if err := arm.BlockUntilReached(c.Context); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.App.Writer, "swept %d passes, skipped %d of %d targets\n",
		c.Int(flagPasses), skipped, c.Int(flagPasses)*points)
	return printCurrent(c.Context, c.App.Writer, arm)
}

// parseJogLine turns one line of keys into a stick sample.
func parseJogLine(line string) (in teleop.Input, quit bool) {
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "q" {
		return teleop.Input{}, true
	}
	if line == "" {
		return teleop.Input{}, false
	}
	in.Enable = true
	for _, key := range line {
		switch key {
		case 'w':
			in.Y++
		case 's':
			in.Y--
		case 'a':
			in.X--
		case 'd':
			in.X++
		}
	}
	return in, false
}

// JogAction is the corresponding Action for 'jog'.
func JogAction(c *cli.Context) (err error) {
	r, err := loadRig(c)
	if err != nil {
		return err
	}
	logger := loggerFrom(c)
	tcfg, err := teleop.ConfigFromRig(r.cfg.Teleop)
	if err != nil {
		return err
	}
	arm, closeArm, err := r.openArm(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeArm(context.Background()))
	}()

	if r.cfg.Teleop.StartX == 0 && r.cfg.Teleop.StartY == 0 {
		states, err := arm.CurrentState(c.Context, kinematics.DefaultForwardMode)
		if err != nil {
			return err
		}
		if len(states) == 0 {
			return errors.New("no teleop start configured and the home pose has no end effector position")
		}
		tcfg.Start = states[0].EndEffector
	}
	controller, err := teleop.NewController(arm, tcfg, logger.Sublogger("teleop"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	inputs := make(chan teleop.Input)
	// Scan cannot be interrupted, so after ctx is done this goroutine lingers
	// until the reader yields another line or EOF.
	go func() {
		defer close(inputs)
		scanner := bufio.NewScanner(c.App.Reader)
		for scanner.Scan() {
			in, quit := parseJogLine(scanner.Text())
			if quit {
				return
			}
			select {
			case inputs <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(c.App.Writer, "jogging from %v: w a s d then enter to move, empty line to stop, q to quit\n", tcfg.Start)
	if err := controller.Run(ctx, inputs); err != nil {
		return err
	}
	if err := arm.BlockUntilReached(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "jog stopped at %v, %d targets rejected\n", controller.Target(), controller.Rejected())
	return printCurrent(c.Context, c.App.Writer, arm)
}

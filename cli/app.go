// Package cli contains the parascara command line actions.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"go.viam.com/parascara/config"
	"go.viam.com/parascara/logging"
)

const (
	// Global flags.
	flagConfig    = "config"
	flagDebug     = "debug"
	flagLogFile   = "log-file"
	flagSim       = "sim"
	flagHomeLeft  = "home-left"
	flagHomeRight = "home-right"

	// Command flags.
	flagMode     = "mode"
	flagSpeed    = "speed"
	flagAccel    = "accel"
	flagY        = "y"
	flagFrom     = "from"
	flagTo       = "to"
	flagPoints   = "points"
	flagPasses   = "passes"
	flagInterval = "interval"
	flagStep     = "step"
	flagPNG      = "png"

	loggerKey  = "logger"
	logFileKey = "log-file-closer"
)

func modeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  flagMode,
		Usage: "inverse kinematics branch, one of ++, +-, -+, --",
		Value: "+-",
	}
}

func moveFlags() []cli.Flag {
	return []cli.Flag{
		modeFlag(),
		&cli.Float64Flag{
			Name:  flagSpeed,
			Usage: "maximum axis speed in degrees per second",
		},
		&cli.Float64Flag{
			Name:  flagAccel,
			Usage: "maximum axis acceleration in degrees per second squared",
		},
	}
}

// NewApp returns the parascara app writing to out and errOut. Interactive
// commands read from in.
func NewApp(out, errOut io.Writer, in io.Reader) *cli.App {
	return &cli.App{
		Name:            "parascara",
		Usage:           "solve and drive a five-bar parallel SCARA arm",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Reader:          in,
		Metadata:        map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				Value:   config.DefaultConfigPath,
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write JSON logs to a rotated `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagSim,
				Usage: "drive simulated motors instead of the Tic controllers",
			},
			&cli.Float64Flag{
				Name:  flagHomeLeft,
				Usage: "left base angle in degrees the arm rests at on startup",
				Value: 90,
			},
			&cli.Float64Flag{
				Name:  flagHomeRight,
				Usage: "right base angle in degrees the arm rests at on startup",
				Value: 90,
			},
		},
		Before: func(c *cli.Context) error {
			if _, ok := c.App.Metadata[loggerKey]; ok {
				return nil
			}
			level := zapcore.InfoLevel
			if c.Bool(flagDebug) {
				level = zapcore.DebugLevel
			}
			if path := c.String(flagLogFile); path != "" {
				logger, closeFile, err := logging.NewFileLogger("parascara", path, level)
				if err != nil {
					return err
				}
				c.App.Metadata[loggerKey] = logger
				c.App.Metadata[logFileKey] = closeFile
				return nil
			}
			if level == zapcore.DebugLevel {
				c.App.Metadata[loggerKey] = logging.NewDebugLogger("parascara")
			} else {
				c.App.Metadata[loggerKey] = logging.NewLogger("parascara")
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if closeFile, ok := c.App.Metadata[logFileKey].(func() error); ok {
				return closeFile()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "ik",
				Usage:     "solve the base angles that reach a position",
				ArgsUsage: "<x> <y>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagMode,
						Usage: "inverse kinematics branch; all four when unset",
					},
				},
				Action: InverseAction,
			},
			{
				Name:      "fk",
				Usage:     "solve the end effector positions for a pair of base angles",
				ArgsUsage: "<left-deg> <right-deg>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagMode,
						Usage: "forward solutions to print, one of i, o, io, oi",
						Value: "io",
					},
				},
				Action: ForwardAction,
			},
			{
				Name:      "check",
				Usage:     "report whether a position is inside the valid workspace",
				ArgsUsage: "<x> <y>",
				Flags:     []cli.Flag{modeFlag()},
				Action:    CheckAction,
			},
			{
				Name:  "workspace",
				Usage: "print a map of the valid workspace",
				Flags: []cli.Flag{
					modeFlag(),
					&cli.Float64Flag{
						Name:  flagStep,
						Usage: "grid spacing in the geometry unit",
						Value: 5,
					},
					&cli.StringFlag{
						Name:  flagPNG,
						Usage: "also plot the map to `FILE`",
					},
				},
				Action: WorkspaceAction,
			},
			{
				Name:      "move",
				Usage:     "move the end effector to a position and wait for it",
				ArgsUsage: "<x> <y>",
				Flags:     moveFlags(),
				Action:    MoveAction,
			},
			{
				Name:  "sweep",
				Usage: "sweep the end effector back and forth along a horizontal line",
				Flags: append([]cli.Flag{
					&cli.Float64Flag{Name: flagY, Usage: "height of the line", Value: 100},
					&cli.Float64Flag{Name: flagFrom, Usage: "x at the start of the line", Value: -80},
					&cli.Float64Flag{Name: flagTo, Usage: "x at the end of the line", Value: 130},
					&cli.IntFlag{Name: flagPoints, Usage: "number of targets along the line", Value: 100},
					&cli.IntFlag{Name: flagPasses, Usage: "number of one-way passes", Value: 2},
					&cli.DurationFlag{Name: flagInterval, Usage: "pause between targets", Value: defaultSweepInterval},
				}, moveFlags()...),
				Action: SweepAction,
			},
			{
				Name: "jog",
				Usage: "jog the end effector from the keyboard; each line of w, a, s, d " +
					"holds a direction, an empty line stops and q quits",
				Action: JogAction,
			},
		},
	}
}

func loggerFrom(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		return logger
	}
	return logging.Global()
}

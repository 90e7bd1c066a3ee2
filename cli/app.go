// Package cli contains the swarmloc command line tool: offline replay of recorded ticks through the
// fuser and of recorded loop edges through outlier rejection.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/dronefleet/swarmloc/config"
	"github.com/dronefleet/swarmloc/logging"
)

const (
	// Flags.
	generalFlagConfig = "config"
	generalFlagDebug  = "debug"

	fuseFlagTicks = "ticks"
	fuseFlagPlot  = "plot"

	rejectFlagEdges        = "edges"
	rejectFlagTrajectories = "trajectories"
	rejectFlagSQLite       = "sqlite"
)

// NewApp returns the CLI app writing results to out and logs to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "swarmloc",
		Usage:           "replay recorded swarm data through the estimator",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    generalFlagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "fuse",
				Usage: "estimate relative drone frames from recorded ticks",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     fuseFlagTicks,
						Usage:    "JSON lines `FILE` with one tick per line",
						Required: true,
					},
					&cli.PathFlag{
						Name:  fuseFlagPlot,
						Usage: "write the estimated tracks as an image to `FILE`",
					},
				},
				Action: FuseAction,
			},
			{
				Name:  "reject",
				Usage: "filter recorded loop closures with pairwise consistency",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     rejectFlagEdges,
						Usage:    "JSON `FILE` with the loop edges",
						Required: true,
					},
					&cli.PathFlag{
						Name:     rejectFlagTrajectories,
						Usage:    "JSON `FILE` with the odometry of every drone",
						Required: true,
					},
					&cli.PathFlag{
						Name:  rejectFlagSQLite,
						Usage: "record diagnostics in the SQLite database `FILE`",
					},
				},
				Action: RejectAction,
			},
		},
	}
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.Path(generalFlagConfig)
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Read(path)
}

func newLogger(c *cli.Context, cfg *config.Config) (logging.Logger, error) {
	logger, err := cfg.Log.NewLogger("swarmloc", c.App.ErrWriter)
	if err != nil {
		return nil, err
	}
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return logger, nil
}

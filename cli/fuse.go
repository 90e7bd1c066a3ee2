package cli

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"github.com/dronefleet/swarmloc/fuser"
	"github.com/dronefleet/swarmloc/spatialmath"
)

// FuseAction replays a tick file through the fuser, solving after every tick, and prints the
// final estimate.
func FuseAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, logger.Sync())
	}()

	ticks, err := readTicks(c.Path(fuseFlagTicks))
	if err != nil {
		return err
	}

	tracks := map[int][]r3.Vector{}
	f, err := fuser.NewFuser(cfg.Fuser, logger.Sublogger("fuser"), fuser.WithEstimateCallback(
		func(positions, _ map[int]r3.Vector, _ map[int]quat.Number) {
			for id, p := range positions {
				tracks[id] = append(tracks[id], p)
			}
		}))
	if err != nil {
		return err
	}

	for i, tick := range ticks {
		_, err := f.AddTick(
			tick.Distances,
			toVectors(tick.Positions),
			toVectors(tick.Velocities),
			toQuats(tick.Orientations),
			tick.IDs,
		)
		if err != nil {
			return errors.Wrapf(err, "tick %d", i+1)
		}
		f.Solve(c.Context)
	}

	printf(c.App.Writer, "%d ticks, %d keyframes, state %s, cost %.6g",
		len(ticks), f.KeyframeCount(), f.State(), f.Cost())
	printf(c.App.Writer, "%s", estimateTable(f.Estimate()))

	if path := c.Path(fuseFlagPlot); path != "" {
		if err := writeTrackPlot(path, tracks); err != nil {
			return err
		}
		printf(c.App.Writer, "wrote %s", path)
	}
	return nil
}

func estimateTable(est fuser.Estimate) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Drone", "Position", "Velocity", "Yaw (deg)"})
	ids := lo.Keys(est.Positions)
	sort.Ints(ids)
	for _, id := range ids {
		yaw := spatialmath.Yaw(est.Orientations[id]) * 180 / math.Pi
		t.AppendRow(table.Row{id, formatVector(est.Positions[id]), formatVector(est.Velocities[id]), fmt.Sprintf("%.1f", yaw)})
	}
	return t.Render()
}

func formatVector(v r3.Vector) string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}

package cli

import (
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/dronefleet/swarmloc/loopclosure"
	"github.com/dronefleet/swarmloc/outlierrejection"
	"github.com/dronefleet/swarmloc/outlierrejection/pcmsink"
	"github.com/dronefleet/swarmloc/spatialmath"
)

// RejectAction runs outlier rejection over a recorded pool of loop edges and prints the edges
// kept. With --sqlite every diagnostic record is stored in the database.
func RejectAction(c *cli.Context) (err error) {
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

	pool, duplicates, err := readEdges(c.Path(rejectFlagEdges))
	if err != nil {
		return err
	}
	if duplicates > 0 {
		printf(c.App.Writer, "ignored %d repeated loop edges", duplicates)
	}
	edges := pool.Edges()
	store, err := readTrajectories(c.Path(rejectFlagTrajectories))
	if err != nil {
		return err
	}

	orCfg := cfg.OutlierRejection
	var sinks pcmsink.Multi
	if orCfg.DebugWritePCMGood || orCfg.DebugWritePCMErrors {
		var goodPath, errorsPath string
		if orCfg.DebugWritePCMGood {
			goodPath = orCfg.PCMGoodPath
		}
		if orCfg.DebugWritePCMErrors {
			errorsPath = orCfg.PCMErrorsPath
		}
		fileSink, sinkErr := pcmsink.NewFileSink(goodPath, errorsPath)
		if sinkErr != nil {
			return sinkErr
		}
		defer func() {
			err = multierr.Combine(err, fileSink.Close())
		}()
		sinks = append(sinks, fileSink)
	}
	if path := c.Path(rejectFlagSQLite); path != "" {
		dbSink, sinkErr := pcmsink.NewSQLiteSink(path, orCfg.Threshold())
		if sinkErr != nil {
			return sinkErr
		}
		defer func() {
			err = multierr.Combine(err, dbSink.Close())
		}()
		sinks = append(sinks, dbSink)
		orCfg.DebugWritePCMGood = true
		orCfg.DebugWritePCMErrors = true
		printf(c.App.Writer, "recording run %s in %s", dbSink.RunID(), path)
	}

	var opts []outlierrejection.Option
	if len(sinks) > 0 {
		opts = append(opts, outlierrejection.WithSink(sinks))
	}
	rejector, err := outlierrejection.NewRejector(orCfg, store, logger.Sublogger("pcm"), opts...)
	if err != nil {
		return err
	}
	good := rejector.RejectOutliers(edges)

	printf(c.App.Writer, "kept %d of %d loop edges", len(good), len(edges))
	printf(c.App.Writer, "%s", edgeTable(good))
	return nil
}

func edgeTable(edges []*loopclosure.Edge) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Drone A", "Drone B", "TS A", "TS B", "Translation", "Yaw (deg)"})
	for _, e := range edges {
		rel := e.RelativePose()
		yaw := spatialmath.Yaw(rel.Orientation) * 180 / math.Pi
		t.AppendRow(table.Row{
			e.ID(), e.DroneA(), e.DroneB(), e.TSA(), e.TSB(),
			formatVector(rel.Position), fmt.Sprintf("%.1f", yaw),
		})
	}
	return t.Render()
}

package cli

import (
	"fmt"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// writeTrackPlot draws the top down track of every drone. The format follows the file extension.
func writeTrackPlot(path string, tracks map[int][]r3.Vector) error {
	if len(tracks) == 0 {
		return errors.New("no estimate to plot")
	}
	p := plot.New()
	p.Title.Text = "Swarm tracks"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Legend.Top = true

	ids := lo.Keys(tracks)
	sort.Ints(ids)
	for i, id := range ids {
		pts := make(plotter.XYs, len(tracks[id]))
		for k, v := range tracks[id] {
			pts[k].X = v.X
			pts[k].Y = v.Y
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "drone %d track", id)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("drone %d", id), line)
	}

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}
	return nil
}

// Package vis renders training artifacts: metric curves over epochs,
// projected skeletons, network input images and mesh exports, plus an
// optional HTTP forwarder to a companion plotting dashboard. Callers
// treat every function here as best-effort.
package vis

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SavePlot renders one metric series over epochs as a PNG. With
// showMin the lowest value is marked and named in the title, which is
// how error curves advertise their best epoch.
func SavePlot(path string, values []float64, title string, showMin bool) error {
	if len(values) == 0 {
		return errors.Errorf("no values to plot for %q", title)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = title
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(values))
	minIdx := 0
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
		if v < values[minIdx] {
			minIdx = i
		}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrapf(err, "plot %q", title)
	}
	p.Add(line)

	if showMin {
		mark, err := plotter.NewScatter(plotter.XYs{{X: float64(minIdx + 1), Y: values[minIdx]}})
		if err != nil {
			return errors.Wrapf(err, "plot %q", title)
		}
		p.Add(mark)
		p.Title.Text = fmt.Sprintf("%s (best %.2f @ epoch %d)", title, values[minIdx], minIdx+1)
	}

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}

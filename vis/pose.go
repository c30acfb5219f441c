package vis

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SavePose renders n 3D joints and their skeleton edges as a front
// view: an orthographic projection onto the XY plane, with Y flipped
// so camera-space poses come out head up.
func SavePose(path string, joints []float64, n int, skeleton [][2]int) error {
	if n <= 0 || len(joints) < n*3 {
		return errors.Errorf("pose needs %d joints, got %d values", n, len(joints))
	}

	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i].X = joints[i*3]
		pts[i].Y = -joints[i*3+1]
	}

	p := plot.New()
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	for _, edge := range skeleton {
		a, b := edge[0], edge[1]
		if a < 0 || a >= n || b < 0 || b >= n {
			return errors.Errorf("skeleton edge (%d, %d) outside %d joints", a, b, n)
		}
		seg, err := plotter.NewLine(plotter.XYs{pts[a], pts[b]})
		if err != nil {
			return errors.Wrap(err, "plot skeleton edge")
		}
		p.Add(seg)
	}
	dots, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "plot joints")
	}
	p.Add(dots)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save pose %s", path)
	}
	return nil
}

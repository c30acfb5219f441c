package models

import (
	"math"
	"testing"

	"gorgonia.org/tensor"

	"github.com/kihoon96/Baseline/config"
)

func testModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Name:      "linear",
		Seed:      1,
		JointNum:  4,
		VertexNum: 6,
		PoseDim:   9,
		ShapeDim:  5,
		ImageSize: 8,
	}
}

func testImage(n, size int, fill float64) *tensor.Dense {
	backing := make([]float64, n*3*size*size)
	for i := range backing {
		backing[i] = fill
	}
	return tensor.New(tensor.WithShape(n, 3, size, size), tensor.WithBacking(backing))
}

func TestRegistry(t *testing.T) {
	cfg := testModelConfig()
	m, err := New(cfg, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := m.(TrainableModel); !ok {
		t.Fatal("linear model does not implement TrainableModel")
	}

	cfg.Name = "no-such-model"
	if _, err := New(cfg, true); err == nil {
		t.Fatal("expected error for unknown model, got nil")
	}
}

func TestForwardShapes(t *testing.T) {
	m, err := NewLinearRegressor(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	pred, err := m.Forward(testImage(2, 8, 0.5))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	checks := []struct {
		name string
		got  tensor.Shape
		want []int
	}{
		{"mesh_cam", pred.MeshCam.Shape(), []int{2, 6, 3}},
		{"joint_cam", pred.JointCam.Shape(), []int{2, 4, 3}},
		{"joint_proj", pred.JointProj.Shape(), []int{2, 4, 2}},
		{"pose", pred.Pose.Shape(), []int{2, 9}},
		{"shape", pred.Shape.Shape(), []int{2, 5}},
	}
	for _, c := range checks {
		if len(c.got) != len(c.want) {
			t.Errorf("%s: shape %v, want %v", c.name, c.got, c.want)
			continue
		}
		for i := range c.want {
			if c.got[i] != c.want[i] {
				t.Errorf("%s: shape %v, want %v", c.name, c.got, c.want)
				break
			}
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	m, err := NewLinearRegressor(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	bad := tensor.New(tensor.WithShape(2, 1, 8, 8), tensor.WithBacking(make([]float64, 2*8*8)))
	if _, err := m.Forward(bad); err == nil {
		t.Fatal("expected error for single-channel input, got nil")
	}
}

func TestForwardDeterministic(t *testing.T) {
	a, _ := NewLinearRegressor(testModelConfig())
	b, _ := NewLinearRegressor(testModelConfig())

	pa, err := a.Forward(testImage(1, 8, 0.3))
	if err != nil {
		t.Fatal(err)
	}
	pb, err := b.Forward(testImage(1, 8, 0.3))
	if err != nil {
		t.Fatal(err)
	}

	da := pa.Pose.Data().([]float64)
	db := pb.Pose.Data().([]float64)
	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("same seed produced different predictions at %d: %g vs %g", i, da[i], db[i])
		}
	}
}

// A descent step against a constant target must reduce the squared
// error of the pose head.
func TestBackwardDescends(t *testing.T) {
	m, err := NewLinearRegressor(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	m.Train()
	img := testImage(2, 8, 0.7)

	sqErr := func(pred *tensor.Dense) float64 {
		d := pred.Data().([]float64)
		s := 0.0
		for _, v := range d {
			s += (v - 1.0) * (v - 1.0)
		}
		return s
	}

	pred, err := m.Forward(img)
	if err != nil {
		t.Fatal(err)
	}
	before := sqErr(pred.Pose)

	// d/dx (x-1)^2 = 2(x-1)
	pd := pred.Pose.Data().([]float64)
	gd := make([]float64, len(pd))
	for i := range pd {
		gd[i] = 2 * (pd[i] - 1.0)
	}
	grad := &OutputGrad{Pose: tensor.New(tensor.WithShape(2, 9), tensor.WithBacking(gd))}
	if err := m.Backward(grad); err != nil {
		t.Fatalf("Backward: %v", err)
	}

	const lr = 1e-3
	for _, p := range m.Parameters() {
		data := p.Data.Data().([]float64)
		g := p.Grad.Data().([]float64)
		for i := range data {
			data[i] -= lr * g[i]
		}
	}

	pred, err = m.Forward(img)
	if err != nil {
		t.Fatal(err)
	}
	if after := sqErr(pred.Pose); after >= before {
		t.Fatalf("squared error did not decrease: before %g, after %g", before, after)
	}
}

func TestBackwardGuards(t *testing.T) {
	m, err := NewLinearRegressor(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}

	m.Eval()
	if err := m.Backward(&OutputGrad{}); err == nil {
		t.Fatal("expected error in eval mode, got nil")
	}

	m.Train()
	if err := m.Backward(&OutputGrad{}); err == nil {
		t.Fatal("expected error before any forward, got nil")
	}

	if _, err := m.Forward(testImage(2, 8, 0.1)); err != nil {
		t.Fatal(err)
	}
	wrong := tensor.New(tensor.WithShape(3, 9), tensor.WithBacking(make([]float64, 27)))
	if err := m.Backward(&OutputGrad{Pose: wrong}); err == nil {
		t.Fatal("expected error for mismatched gradient batch, got nil")
	}
}

func TestCountParameters(t *testing.T) {
	m, err := NewLinearRegressor(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	// Heads: mesh 6*3, joint 4*3, proj 4*2, pose 9, shape 5.
	want := 0
	for _, d := range []int{18, 12, 8, 9, 5} {
		want += 3*d + d
	}
	if got := CountParameters(m); got != want {
		t.Errorf("CountParameters = %d, want %d", got, want)
	}
}

func TestZeroGrad(t *testing.T) {
	p := NewParameter("w", []int{2, 2}, []float64{1, 2, 3, 4})
	g := p.Grad.Data().([]float64)
	for i := range g {
		g[i] = float64(i) + 1
	}
	p.ZeroGrad()
	for i, v := range p.Grad.Data().([]float64) {
		if v != 0 {
			t.Fatalf("grad[%d] = %g after ZeroGrad", i, v)
		}
	}
	if math.Abs(p.Data.Data().([]float64)[3]-4) > 1e-12 {
		t.Fatal("ZeroGrad touched parameter data")
	}
}

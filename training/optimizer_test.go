package training

import (
	"math"
	"testing"

	"github.com/kihoon96/Baseline/checkpoints"
	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/models"
)

func testParam(name string, vals []float64) *models.Parameter {
	return models.NewParameter(name, []int{len(vals)}, append([]float64(nil), vals...))
}

func setGrad(p *models.Parameter, vals []float64) {
	copy(p.Grad.Data().([]float64), vals)
}

func TestSGDStep(t *testing.T) {
	p := testParam("w", []float64{1, 2})
	opt, err := NewSGD([]*models.Parameter{p}, 0.1, 0, 0)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	setGrad(p, []float64{0.5, -0.5})
	if err := opt.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// data - lr*grad = [1-0.05, 2+0.05]
	got := p.Data.Data().([]float64)
	if !close64(got[0], 0.95) || !close64(got[1], 2.05) {
		t.Errorf("data = %v, want [0.95 2.05]", got)
	}
}

func TestSGDMomentum(t *testing.T) {
	p := testParam("w", []float64{1})
	opt, err := NewSGD([]*models.Parameter{p}, 0.1, 0.9, 0)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	setGrad(p, []float64{1})
	if err := opt.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// v = 1, data = 1 - 0.1
	got := p.Data.Data().([]float64)
	if !close64(got[0], 0.9) {
		t.Fatalf("after step 1 data = %v, want 0.9", got[0])
	}
	setGrad(p, []float64{1})
	if err := opt.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// v = 0.9*1 + 1 = 1.9, data = 0.9 - 0.19
	got = p.Data.Data().([]float64)
	if !close64(got[0], 0.71) {
		t.Errorf("after step 2 data = %v, want 0.71", got[0])
	}
}

func TestSGDWeightDecay(t *testing.T) {
	p := testParam("w", []float64{2})
	opt, err := NewSGD([]*models.Parameter{p}, 0.1, 0, 0.1)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	// zero gradient, decay alone shrinks the weight:
	// g = 0 + 0.1*2 = 0.2, data = 2 - 0.1*0.2
	if err := opt.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	got := p.Data.Data().([]float64)
	if !close64(got[0], 1.98) {
		t.Errorf("data = %v, want 1.98", got[0])
	}
}

func TestAdamFirstStep(t *testing.T) {
	p := testParam("w", []float64{1, 1})
	opt, err := NewAdam([]*models.Parameter{p}, 0.1, 0.9, 0.999, 1e-8)
	if err != nil {
		t.Fatalf("NewAdam: %v", err)
	}
	setGrad(p, []float64{1, -2})
	if err := opt.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// Bias correction makes the first update lr*sign(grad) up to
	// epsilon: mHat = g, vHat = g^2, update = lr*g/|g|.
	got := p.Data.Data().([]float64)
	if math.Abs(got[0]-0.9) > 1e-6 {
		t.Errorf("data[0] = %v, want 0.9", got[0])
	}
	if math.Abs(got[1]-1.1) > 1e-6 {
		t.Errorf("data[1] = %v, want 1.1", got[1])
	}
}

func TestOptimizerStateRoundTrip(t *testing.T) {
	build := map[string]func(params []*models.Parameter) (Optimizer, error){
		"sgd": func(params []*models.Parameter) (Optimizer, error) {
			return NewSGD(params, 0.05, 0.9, 0.01)
		},
		"adam": func(params []*models.Parameter) (Optimizer, error) {
			return NewAdam(params, 0.05, 0.9, 0.999, 1e-8)
		},
	}
	grads := [][]float64{{1, -1, 0.5}, {0.2, 0.4, -0.3}, {-1, 2, 1}}

	for name, construct := range build {
		t.Run(name, func(t *testing.T) {
			p := testParam("w", []float64{1, 2, 3})
			opt, err := construct([]*models.Parameter{p})
			if err != nil {
				t.Fatalf("construct: %v", err)
			}
			for _, g := range grads {
				setGrad(p, g)
				if err := opt.Step(); err != nil {
					t.Fatalf("Step: %v", err)
				}
			}

			st := opt.State()
			if st.Type != name {
				t.Errorf("state type = %q, want %q", st.Type, name)
			}
			if st.StepCount != 3 {
				t.Errorf("step count = %d, want 3", st.StepCount)
			}

			// A fresh optimizer over cloned weights plus LoadState must
			// take the exact same next step as the original.
			q := testParam("w", p.Data.Data().([]float64))
			restored, err := construct([]*models.Parameter{q})
			if err != nil {
				t.Fatalf("construct clone: %v", err)
			}
			if err := restored.LoadState(st); err != nil {
				t.Fatalf("LoadState: %v", err)
			}

			next := []float64{0.7, -0.7, 0.7}
			setGrad(p, next)
			setGrad(q, next)
			if err := opt.Step(); err != nil {
				t.Fatalf("Step original: %v", err)
			}
			if err := restored.Step(); err != nil {
				t.Fatalf("Step restored: %v", err)
			}
			a := p.Data.Data().([]float64)
			b := q.Data.Data().([]float64)
			for i := range a {
				if !close64(a[i], b[i]) {
					t.Errorf("data[%d]: original %v, restored %v", i, a[i], b[i])
				}
			}
		})
	}
}

func TestOptimizerLoadStateErrors(t *testing.T) {
	newSGD := func(t *testing.T) *SGD {
		p := testParam("w", []float64{1, 2})
		opt, err := NewSGD([]*models.Parameter{p}, 0.1, 0.9, 0)
		if err != nil {
			t.Fatalf("NewSGD: %v", err)
		}
		return opt
	}

	t.Run("type mismatch", func(t *testing.T) {
		opt := newSGD(t)
		if err := opt.LoadState(checkpoints.OptimizerState{Type: "adam"}); err == nil {
			t.Error("expected error loading adam state into sgd")
		}
		p := testParam("w", []float64{1})
		adam, err := NewAdam([]*models.Parameter{p}, 0.1, 0.9, 0.999, 1e-8)
		if err != nil {
			t.Fatalf("NewAdam: %v", err)
		}
		if err := adam.LoadState(checkpoints.OptimizerState{Type: "sgd"}); err == nil {
			t.Error("expected error loading sgd state into adam")
		}
	})

	t.Run("unknown parameter", func(t *testing.T) {
		opt := newSGD(t)
		st := checkpoints.OptimizerState{Type: "sgd", StateData: []checkpoints.OptimizerTensor{
			{Name: "velocity/ghost", Shape: []int{2}, Data: []float64{0, 0}},
		}}
		if err := opt.LoadState(st); err == nil {
			t.Error("expected error for buffer without parameter")
		}
	})

	t.Run("unknown prefix", func(t *testing.T) {
		opt := newSGD(t)
		st := checkpoints.OptimizerState{Type: "sgd", StateData: []checkpoints.OptimizerTensor{
			{Name: "moment/w", Shape: []int{2}, Data: []float64{0, 0}},
		}}
		if err := opt.LoadState(st); err == nil {
			t.Error("expected error for unknown buffer prefix")
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		opt := newSGD(t)
		st := checkpoints.OptimizerState{Type: "sgd", StateData: []checkpoints.OptimizerTensor{
			{Name: "velocity/w", Shape: []int{3}, Data: []float64{0, 0, 0}},
		}}
		if err := opt.LoadState(st); err == nil {
			t.Error("expected error for wrong buffer size")
		}
	})

	t.Run("orphan moment", func(t *testing.T) {
		p := testParam("w", []float64{1, 2})
		adam, err := NewAdam([]*models.Parameter{p}, 0.1, 0.9, 0.999, 1e-8)
		if err != nil {
			t.Fatalf("NewAdam: %v", err)
		}
		st := checkpoints.OptimizerState{Type: "adam", StateData: []checkpoints.OptimizerTensor{
			{Name: "m/w", Shape: []int{2}, Data: []float64{0, 0}},
		}}
		if err := adam.LoadState(st); err == nil {
			t.Error("expected error for first moment without second")
		}
	})
}

func TestNewOptimizerSelection(t *testing.T) {
	params := []*models.Parameter{testParam("w", []float64{1})}

	opt, err := NewOptimizer(config.TrainConfig{Optimizer: "sgd", LR: 1e-3}, params)
	if err != nil {
		t.Fatalf("sgd: %v", err)
	}
	if _, ok := opt.(*SGD); !ok {
		t.Errorf("optimizer for \"sgd\" is %T", opt)
	}

	opt, err = NewOptimizer(config.TrainConfig{LR: 1e-3}, params)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if _, ok := opt.(*Adam); !ok {
		t.Errorf("default optimizer is %T", opt)
	}

	if _, err := NewOptimizer(config.TrainConfig{Optimizer: "rmsprop", LR: 1e-3}, params); err == nil {
		t.Error("expected error for unknown optimizer name")
	}
}

func TestOptimizerRejectsBadInputs(t *testing.T) {
	if _, err := NewSGD(nil, 0.1, 0, 0); err == nil {
		t.Error("expected error for empty parameter list")
	}
	p := testParam("w", []float64{1})
	if _, err := NewSGD([]*models.Parameter{p}, 0, 0, 0); err == nil {
		t.Error("expected error for zero learning rate")
	}
	dup := []*models.Parameter{testParam("w", []float64{1}), testParam("w", []float64{2})}
	if _, err := NewAdam(dup, 0.1, 0.9, 0.999, 1e-8); err == nil {
		t.Error("expected error for duplicate parameter names")
	}
	if _, err := NewAdam([]*models.Parameter{p}, 0.1, 1.0, 0.999, 1e-8); err == nil {
		t.Error("expected error for beta1 out of range")
	}
}

func TestZeroGradAndLR(t *testing.T) {
	p := testParam("w", []float64{1, 2})
	opt, err := NewSGD([]*models.Parameter{p}, 0.1, 0, 0)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	setGrad(p, []float64{3, 4})
	opt.ZeroGrad()
	g := p.Grad.Data().([]float64)
	if g[0] != 0 || g[1] != 0 {
		t.Errorf("grad after ZeroGrad = %v", g)
	}

	opt.SetLR(0.05)
	if lr := opt.GetLR(); lr != 0.05 {
		t.Errorf("GetLR = %v, want 0.05", lr)
	}
}

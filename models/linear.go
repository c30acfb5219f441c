package models

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/kihoon96/Baseline/config"
)

func init() {
	Register("linear", func(cfg config.ModelConfig, isTrain bool) (Model, error) {
		return NewLinearRegressor(cfg)
	})
}

var linearHeads = []string{"mesh_cam", "joint_cam", "joint_proj", "pose", "shape"}

// LinearRegressor predicts every output head as an affine map of the
// per-channel means of the input image. It is the smallest model that
// exercises the full five-head contract end to end, and its closed
// form gradients make the optimization loop testable without a real
// backbone.
type LinearRegressor struct {
	joints   int
	vertices int
	poseDim  int
	shapeDim int
	training bool

	weights map[string]*Parameter // head -> [3, D]
	biases  map[string]*Parameter // head -> [D]
	params  []*Parameter

	feats *mat.Dense // [N, 3] features cached by the last Forward
}

// NewLinearRegressor builds the model with weights drawn from a seeded
// normal distribution.
func NewLinearRegressor(cfg config.ModelConfig) (*LinearRegressor, error) {
	if cfg.JointNum <= 0 || cfg.VertexNum <= 0 || cfg.PoseDim <= 0 || cfg.ShapeDim <= 0 {
		return nil, errors.Errorf("linear regressor needs positive dims, got J=%d V=%d P=%d S=%d",
			cfg.JointNum, cfg.VertexNum, cfg.PoseDim, cfg.ShapeDim)
	}

	m := &LinearRegressor{
		joints:   cfg.JointNum,
		vertices: cfg.VertexNum,
		poseDim:  cfg.PoseDim,
		shapeDim: cfg.ShapeDim,
		weights:  make(map[string]*Parameter, len(linearHeads)),
		biases:   make(map[string]*Parameter, len(linearHeads)),
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	for _, head := range linearHeads {
		dim := m.headDim(head)
		w := make([]float64, 3*dim)
		for i := range w {
			w[i] = rng.NormFloat64() * 0.01
		}
		wp := NewParameter(head+".weight", []int{3, dim}, w)
		bp := NewParameter(head+".bias", []int{dim}, nil)
		m.weights[head] = wp
		m.biases[head] = bp
		m.params = append(m.params, wp, bp)
	}
	return m, nil
}

func (m *LinearRegressor) headDim(head string) int {
	switch head {
	case "mesh_cam":
		return m.vertices * 3
	case "joint_cam":
		return m.joints * 3
	case "joint_proj":
		return m.joints * 2
	case "pose":
		return m.poseDim
	case "shape":
		return m.shapeDim
	}
	panic("models: unknown head " + head)
}

// Forward pools the image into [N, 3] channel means and applies each
// head's affine map. The pooled features are cached for Backward.
func (m *LinearRegressor) Forward(img *tensor.Dense) (*Prediction, error) {
	shp := img.Shape()
	if len(shp) != 4 || shp[1] != 3 {
		return nil, errors.Errorf("expected [N, 3, H, W] input, got %v", shp)
	}
	n, hw := shp[0], shp[2]*shp[3]
	data := img.Data().([]float64)

	feats := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		base := i * 3 * hw
		for c := 0; c < 3; c++ {
			sum := 0.0
			for _, v := range data[base+c*hw : base+(c+1)*hw] {
				sum += v
			}
			feats.Set(i, c, sum/float64(hw))
		}
	}
	m.feats = feats

	return &Prediction{
		MeshCam:   m.runHead("mesh_cam", feats, n, m.vertices, 3),
		JointCam:  m.runHead("joint_cam", feats, n, m.joints, 3),
		JointProj: m.runHead("joint_proj", feats, n, m.joints, 2),
		Pose:      m.runHead("pose", feats, n, m.poseDim),
		Shape:     m.runHead("shape", feats, n, m.shapeDim),
	}, nil
}

func (m *LinearRegressor) runHead(head string, feats *mat.Dense, n int, dims ...int) *tensor.Dense {
	dim := m.headDim(head)
	var out mat.Dense
	out.Mul(feats, mat.NewDense(3, dim, m.weights[head].Data.Data().([]float64)))

	b := m.biases[head].Data.Data().([]float64)
	backing := make([]float64, n*dim)
	for i := 0; i < n; i++ {
		for k := 0; k < dim; k++ {
			backing[i*dim+k] = out.At(i, k) + b[k]
		}
	}
	return tensor.New(tensor.WithShape(append([]int{n}, dims...)...), tensor.WithBacking(backing))
}

// Backward accumulates dW = feats^T * g and db = sum_n g for every
// head with a non-nil gradient.
func (m *LinearRegressor) Backward(grad *OutputGrad) error {
	if !m.training {
		return errors.New("backward called in eval mode")
	}
	if m.feats == nil {
		return errors.New("backward called before forward")
	}
	for _, h := range []struct {
		name string
		g    *tensor.Dense
	}{
		{"mesh_cam", grad.MeshCam},
		{"joint_cam", grad.JointCam},
		{"joint_proj", grad.JointProj},
		{"pose", grad.Pose},
		{"shape", grad.Shape},
	} {
		if h.g == nil {
			continue
		}
		if err := m.accumulate(h.name, h.g); err != nil {
			return err
		}
	}
	return nil
}

func (m *LinearRegressor) accumulate(head string, g *tensor.Dense) error {
	n, _ := m.feats.Dims()
	dim := m.headDim(head)
	gd := g.Data().([]float64)
	if len(gd) != n*dim {
		return errors.Errorf("gradient for %s has %d values, want %d", head, len(gd), n*dim)
	}
	G := mat.NewDense(n, dim, gd)

	var dw mat.Dense
	dw.Mul(m.feats.T(), G)
	wg := m.weights[head].Grad.Data().([]float64)
	for c := 0; c < 3; c++ {
		for k := 0; k < dim; k++ {
			wg[c*dim+k] += dw.At(c, k)
		}
	}

	bg := m.biases[head].Grad.Data().([]float64)
	for i := 0; i < n; i++ {
		for k := 0; k < dim; k++ {
			bg[k] += gd[i*dim+k]
		}
	}
	return nil
}

// Parameters returns weights and biases in head order.
func (m *LinearRegressor) Parameters() []*Parameter { return m.params }

// Train switches the model into training mode.
func (m *LinearRegressor) Train() { m.training = true }

// Eval switches the model into evaluation mode.
func (m *LinearRegressor) Eval() { m.training = false }

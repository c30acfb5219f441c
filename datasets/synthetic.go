package datasets

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

func init() {
	Register("Synthetic", func(transform Transform, split string) (Dataset, error) {
		cfg := DefaultSyntheticConfig()
		if split == SplitTest {
			cfg.Size = 128
			cfg.Seed = 101
		}
		return NewSynthetic(cfg, transform)
	})
}

// SyntheticConfig sizes the generated dataset.
type SyntheticConfig struct {
	Size      int
	Joints    int
	Vertices  int
	PoseDim   int
	ShapeDim  int
	ImageSize int
	Seed      int64
	SetName   string
}

// DefaultSyntheticConfig matches config.Default's model sizing.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Size:      512,
		Joints:    17,
		Vertices:  128,
		PoseDim:   72,
		ShapeDim:  10,
		ImageSize: 64,
		Seed:      9,
		SetName:   "Synthetic",
	}
}

// SyntheticDataset generates items on the fly from a per-index seed,
// so Get(i) always returns the same values without holding the whole
// dataset in memory.
type SyntheticDataset struct {
	cfg       SyntheticConfig
	transform Transform
}

// NewSynthetic validates cfg and wraps it as a Dataset.
func NewSynthetic(cfg SyntheticConfig, transform Transform) (*SyntheticDataset, error) {
	if cfg.Size <= 0 || cfg.Joints <= 0 || cfg.Vertices <= 0 || cfg.PoseDim <= 0 || cfg.ShapeDim <= 0 || cfg.ImageSize <= 0 {
		return nil, errors.Errorf("synthetic dataset needs positive sizing, got %+v", cfg)
	}
	if cfg.SetName == "" {
		cfg.SetName = "Synthetic"
	}
	return &SyntheticDataset{cfg: cfg, transform: transform}, nil
}

// Len returns the configured size.
func (d *SyntheticDataset) Len() int { return d.cfg.Size }

// JointSet returns the configured descriptor.
func (d *SyntheticDataset) JointSet() JointSet {
	return JointSet{Name: d.cfg.SetName, JointNum: d.cfg.Joints}
}

// Get builds the idx-th item deterministically.
func (d *SyntheticDataset) Get(idx int) (Item, error) {
	if idx < 0 || idx >= d.cfg.Size {
		return nil, errors.Errorf("index %d out of range [0, %d)", idx, d.cfg.Size)
	}
	rng := rand.New(rand.NewSource(d.cfg.Seed + int64(idx)))

	s := d.cfg.ImageSize
	img := make([]float64, 3*s*s)
	for i := range img {
		img[i] = rng.Float64()
	}
	imgT := tensor.New(tensor.WithShape(3, s, s), tensor.WithBacking(img))
	if d.transform != nil {
		d.transform(imgT)
	}

	jimg := make([]float64, d.cfg.Joints*2)
	for i := range jimg {
		jimg[i] = rng.Float64() * float64(s)
	}

	item := Item{
		FieldImage:        imgT,
		FieldJointImg:     tensor.New(tensor.WithShape(d.cfg.Joints, 2), tensor.WithBacking(jimg)),
		FieldJointCam:     normalDense(rng, 0.3, d.cfg.Joints, 3),
		FieldSMPLJointCam: normalDense(rng, 0.3, d.cfg.Joints, 3),
		FieldPose:         normalDense(rng, 0.2, d.cfg.PoseDim),
		FieldShape:        normalDense(rng, 0.5, d.cfg.ShapeDim),
		FieldJointValid:   onesDense(d.cfg.Joints, 1),
		FieldHas3D:        onesDense(1, 1),
		FieldHasParam:     onesDense(1),
		FieldMeshCam:      normalDense(rng, 0.3, d.cfg.Vertices, 3),
	}
	return item, nil
}

func normalDense(rng *rand.Rand, scale float64, dims ...int) *tensor.Dense {
	n := 1
	for _, d := range dims {
		n *= d
	}
	backing := make([]float64, n)
	for i := range backing {
		backing[i] = rng.NormFloat64() * scale
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}

func onesDense(dims ...int) *tensor.Dense {
	n := 1
	for _, d := range dims {
		n *= d
	}
	backing := make([]float64, n)
	for i := range backing {
		backing[i] = 1
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}

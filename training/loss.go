package training

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Criterion bundles the six training loss terms. Coordinate and
// parameter terms are masked mean absolute errors; the prior term
// regularizes predictions directly and takes no target.
type Criterion struct {
	JointCam     *CoordLoss
	SMPLJointCam *CoordLoss
	JointProj    *CoordLoss
	PoseParam    *ParamLoss
	ShapeParam   *ParamLoss
	Prior        *PriorLoss
}

// NewCriterion builds the bundle.
func NewCriterion() *Criterion {
	return &Criterion{
		JointCam:     &CoordLoss{},
		SMPLJointCam: &CoordLoss{},
		JointProj:    &CoordLoss{},
		PoseParam:    &ParamLoss{},
		ShapeParam:   &ParamLoss{},
		Prior:        &PriorLoss{},
	}
}

// CoordLoss is a masked mean absolute error over coordinate tensors,
// typically [N, J, C] values against a [N, J, 1] or [N, 1, 1] mask.
type CoordLoss struct{}

// Forward computes mean(|pred - target| * mask) over all elements.
func (CoordLoss) Forward(pred, target, mask *tensor.Dense) (float64, error) {
	return maskedL1(pred, target, mask)
}

// Backward computes d/dpred of Forward.
func (CoordLoss) Backward(pred, target, mask *tensor.Dense) (*tensor.Dense, error) {
	return maskedL1Grad(pred, target, mask)
}

// ParamLoss is the same masked mean absolute error over parameter
// vectors, typically [N, P] values against a [N, 1] mask.
type ParamLoss struct{}

// Forward computes mean(|pred - target| * mask) over all elements.
func (ParamLoss) Forward(pred, target, mask *tensor.Dense) (float64, error) {
	return maskedL1(pred, target, mask)
}

// Backward computes d/dpred of Forward.
func (ParamLoss) Backward(pred, target, mask *tensor.Dense) (*tensor.Dense, error) {
	return maskedL1Grad(pred, target, mask)
}

// PriorLoss pulls pose (beyond its three global-orientation
// components) and shape toward zero by mean squared magnitude.
type PriorLoss struct{}

// Forward computes mean(pose[:, 3:]^2) + mean(shape^2).
func (PriorLoss) Forward(pose, shape *tensor.Dense) (float64, error) {
	n, p, err := poseDims(pose)
	if err != nil {
		return 0, err
	}
	pd := pose.Data().([]float64)
	poseSum := 0.0
	for i := 0; i < n; i++ {
		for k := 3; k < p; k++ {
			v := pd[i*p+k]
			poseSum += v * v
		}
	}

	sd := shape.Data().([]float64)
	shapeSum := 0.0
	for _, v := range sd {
		shapeSum += v * v
	}
	return poseSum/float64(n*(p-3)) + shapeSum/float64(len(sd)), nil
}

// Backward computes the gradients for both inputs. The pose gradient
// is full shaped, zero over the global-orientation components.
func (PriorLoss) Backward(pose, shape *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	n, p, err := poseDims(pose)
	if err != nil {
		return nil, nil, err
	}
	pd := pose.Data().([]float64)
	pg := make([]float64, len(pd))
	norm := float64(n * (p - 3))
	for i := 0; i < n; i++ {
		for k := 3; k < p; k++ {
			pg[i*p+k] = 2 * pd[i*p+k] / norm
		}
	}

	sd := shape.Data().([]float64)
	sg := make([]float64, len(sd))
	for i, v := range sd {
		sg[i] = 2 * v / float64(len(sd))
	}

	return tensor.New(tensor.WithShape([]int(pose.Shape())...), tensor.WithBacking(pg)),
		tensor.New(tensor.WithShape([]int(shape.Shape())...), tensor.WithBacking(sg)),
		nil
}

func poseDims(pose *tensor.Dense) (n, p int, err error) {
	shp := pose.Shape()
	if len(shp) != 2 || shp[1] <= 3 {
		return 0, 0, errors.Errorf("pose must be [N, P] with P > 3, got %v", shp)
	}
	return shp[0], shp[1], nil
}

func maskedL1(pred, target, mask *tensor.Dense) (float64, error) {
	p := pred.Data().([]float64)
	tg := target.Data().([]float64)
	if len(p) != len(tg) {
		return 0, errors.Errorf("pred has %d values, target %d", len(p), len(tg))
	}
	bc, err := newBroadcast(pred.Shape(), mask.Shape())
	if err != nil {
		return 0, err
	}
	m := mask.Data().([]float64)

	sum := 0.0
	for i := range p {
		sum += math.Abs(p[i]-tg[i]) * m[bc.index(i)]
	}
	return sum / float64(len(p)), nil
}

func maskedL1Grad(pred, target, mask *tensor.Dense) (*tensor.Dense, error) {
	p := pred.Data().([]float64)
	tg := target.Data().([]float64)
	if len(p) != len(tg) {
		return nil, errors.Errorf("pred has %d values, target %d", len(p), len(tg))
	}
	bc, err := newBroadcast(pred.Shape(), mask.Shape())
	if err != nil {
		return nil, err
	}
	m := mask.Data().([]float64)

	out := make([]float64, len(p))
	norm := float64(len(p))
	for i := range p {
		switch d := p[i] - tg[i]; {
		case d > 0:
			out[i] = m[bc.index(i)] / norm
		case d < 0:
			out[i] = -m[bc.index(i)] / norm
		}
	}
	return tensor.New(tensor.WithShape([]int(pred.Shape())...), tensor.WithBacking(out)), nil
}

// mulMask multiplies two masks elementwise, broadcasting b onto a's
// shape. Combines per-joint validity with per-sample flags.
func mulMask(a, b *tensor.Dense) (*tensor.Dense, error) {
	bc, err := newBroadcast(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}
	ad := a.Data().([]float64)
	bd := b.Data().([]float64)
	out := make([]float64, len(ad))
	for i := range ad {
		out[i] = ad[i] * bd[bc.index(i)]
	}
	return tensor.New(tensor.WithShape([]int(a.Shape())...), tensor.WithBacking(out)), nil
}

// broadcast resolves flat indices of a full shape against a smaller
// right-aligned shape whose dimensions are each 1 or equal.
type broadcast struct {
	dims    []int
	strides []int
}

func newBroadcast(full, small tensor.Shape) (*broadcast, error) {
	fd := []int(full)
	sd := []int(small)
	if len(sd) > len(fd) {
		return nil, errors.Errorf("mask rank %d exceeds value rank %d", len(sd), len(fd))
	}

	padded := make([]int, len(fd))
	for i := range padded {
		padded[i] = 1
	}
	copy(padded[len(fd)-len(sd):], sd)

	strides := make([]int, len(fd))
	acc := 1
	for i := len(fd) - 1; i >= 0; i-- {
		if padded[i] != 1 && padded[i] != fd[i] {
			return nil, errors.Errorf("mask dim %d is %d, want 1 or %d", i, padded[i], fd[i])
		}
		if padded[i] == 1 {
			strides[i] = 0
		} else {
			strides[i] = acc
		}
		acc *= padded[i]
	}
	return &broadcast{dims: fd, strides: strides}, nil
}

func (b *broadcast) index(flat int) int {
	idx := 0
	for i := len(b.dims) - 1; i >= 0; i-- {
		idx += (flat % b.dims[i]) * b.strides[i]
		flat /= b.dims[i]
	}
	return idx
}

// addScaled accumulates scale*src into dst, allocating dst from src's
// shape when nil. Heads hit by several loss terms merge their
// gradients this way.
func addScaled(dst, src *tensor.Dense, scale float64) *tensor.Dense {
	sd := src.Data().([]float64)
	if dst == nil {
		backing := make([]float64, len(sd))
		for i, v := range sd {
			backing[i] = scale * v
		}
		return tensor.New(tensor.WithShape([]int(src.Shape())...), tensor.WithBacking(backing))
	}
	dd := dst.Data().([]float64)
	for i, v := range sd {
		dd[i] += scale * v
	}
	return dst
}

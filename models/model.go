// Package models defines the network contract the training and
// evaluation loops drive, plus a registry architectures are resolved
// from by name.
package models

import (
	"gorgonia.org/tensor"
)

// Parameter is one learnable tensor paired with its gradient buffer.
// Data and Grad share a shape; optimizers update Data in place from
// whatever Backward accumulated into Grad.
type Parameter struct {
	Name string
	Data *tensor.Dense
	Grad *tensor.Dense
}

// NewParameter allocates a parameter with the given backing and a
// zeroed gradient of the same shape. A nil backing allocates zeros.
func NewParameter(name string, shape []int, backing []float64) *Parameter {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if backing == nil {
		backing = make([]float64, n)
	}
	return &Parameter{
		Name: name,
		Data: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)),
		Grad: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float64, n))),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	g := p.Grad.Data().([]float64)
	for i := range g {
		g[i] = 0
	}
}

// Prediction is the output of one forward pass over a batch of N
// images. Mesh and joints are camera-space coordinates in meters;
// JointProj lives on the image plane.
type Prediction struct {
	MeshCam   *tensor.Dense // [N, V, 3]
	JointCam  *tensor.Dense // [N, J, 3]
	JointProj *tensor.Dense // [N, J, 2]
	Pose      *tensor.Dense // [N, P]
	Shape     *tensor.Dense // [N, S]
}

// OutputGrad carries the loss gradient for each prediction head back
// into the model. A nil field means no gradient flows through that
// head this step.
type OutputGrad struct {
	MeshCam   *tensor.Dense
	JointCam  *tensor.Dense
	JointProj *tensor.Dense
	Pose      *tensor.Dense
	Shape     *tensor.Dense
}

// Model is the contract evaluation needs.
type Model interface {
	// Forward maps a [N, 3, H, W] image batch to predictions.
	Forward(img *tensor.Dense) (*Prediction, error)
	Parameters() []*Parameter
	Train()
	Eval()
}

// TrainableModel additionally turns output gradients into parameter
// gradients.
type TrainableModel interface {
	Model
	Backward(grad *OutputGrad) error
}

// CountParameters sums the element counts of every parameter.
func CountParameters(m Model) int {
	total := 0
	for _, p := range m.Parameters() {
		total += len(p.Data.Data().([]float64))
	}
	return total
}

package training

import (
	"math"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/kihoon96/Baseline/checkpoints"
	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/models"
)

// Optimizer interface defines the methods that all optimizers must
// implement, including full state snapshot and restore for resuming.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
	State() checkpoints.OptimizerState
	LoadState(st checkpoints.OptimizerState) error
}

// NewOptimizer builds the optimizer cfg.Optimizer selects over the
// given parameters.
func NewOptimizer(cfg config.TrainConfig, params []*models.Parameter) (Optimizer, error) {
	switch cfg.Optimizer {
	case "sgd":
		return NewSGD(params, cfg.LR, 0.9, 0)
	case "", "adam":
		return NewAdam(params, cfg.LR, 0.9, 0.999, 1e-8)
	}
	return nil, errors.Errorf("unknown optimizer %q", cfg.Optimizer)
}

func checkParameters(params []*models.Parameter, lr float64) error {
	if len(params) == 0 {
		return errors.New("optimizer needs parameters")
	}
	if lr <= 0 {
		return errors.Errorf("learning rate must be positive, got %g", lr)
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			return errors.Errorf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// SGD implements stochastic gradient descent with classical momentum
// and optional weight decay. State buffers are keyed by parameter
// name, so a snapshot restores into a freshly built model.
type SGD struct {
	params      []*models.Parameter
	lr          float64
	momentum    float64
	weightDecay float64
	stepCount   int64
	velocity    map[string][]float64
	mutex       sync.RWMutex
}

// NewSGD creates a new SGD optimizer.
func NewSGD(params []*models.Parameter, lr, momentum, weightDecay float64) (*SGD, error) {
	if err := checkParameters(params, lr); err != nil {
		return nil, err
	}
	return &SGD{
		params:      params,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocity:    make(map[string][]float64),
	}, nil
}

// Step performs a single optimization step.
func (o *SGD) Step() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.stepCount++
	for _, p := range o.params {
		data := p.Data.Data().([]float64)
		grad := p.Grad.Data().([]float64)
		v := o.velocity[p.Name]
		if v == nil {
			v = make([]float64, len(data))
			o.velocity[p.Name] = v
		}
		for i := range data {
			g := grad[i]
			if o.weightDecay != 0 {
				g += o.weightDecay * data[i]
			}
			if o.momentum != 0 {
				v[i] = o.momentum*v[i] + g
				g = v[i]
			}
			data[i] -= o.lr * g
		}
	}
	return nil
}

// ZeroGrad resets all parameter gradients.
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (o *SGD) GetLR() float64 {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.lr
}

// SetLR sets the learning rate.
func (o *SGD) SetLR(lr float64) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.lr = lr
}

// State snapshots hyperparameters and velocity buffers.
func (o *SGD) State() checkpoints.OptimizerState {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	st := checkpoints.OptimizerState{
		Type:      "sgd",
		LR:        o.lr,
		StepCount: o.stepCount,
		Parameters: map[string]float64{
			"momentum":     o.momentum,
			"weight_decay": o.weightDecay,
		},
	}
	for _, p := range o.params {
		if v, ok := o.velocity[p.Name]; ok {
			st.StateData = append(st.StateData, checkpoints.OptimizerTensor{
				Name:  "velocity/" + p.Name,
				Shape: append([]int(nil), []int(p.Data.Shape())...),
				Data:  append([]float64(nil), v...),
			})
		}
	}
	return st
}

// LoadState restores hyperparameters and buffers from a snapshot. The
// snapshot itself is only read.
func (o *SGD) LoadState(st checkpoints.OptimizerState) error {
	if st.Type != "" && st.Type != "sgd" {
		return errors.Errorf("cannot restore %q state into sgd", st.Type)
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if st.LR > 0 {
		o.lr = st.LR
	}
	o.stepCount = st.StepCount
	if m, ok := st.Parameters["momentum"]; ok {
		o.momentum = m
	}
	if wd, ok := st.Parameters["weight_decay"]; ok {
		o.weightDecay = wd
	}

	velocity := make(map[string][]float64, len(st.StateData))
	byName := paramsByName(o.params)
	for _, tns := range st.StateData {
		name, ok := strings.CutPrefix(tns.Name, "velocity/")
		if !ok {
			return errors.Errorf("unexpected sgd state tensor %q", tns.Name)
		}
		buf, err := matchStateTensor(byName, name, tns)
		if err != nil {
			return err
		}
		velocity[name] = buf
	}
	o.velocity = velocity
	return nil
}

// Adam implements the Adam optimizer with bias correction.
type Adam struct {
	params    []*models.Parameter
	lr        float64
	beta1     float64
	beta2     float64
	epsilon   float64
	stepCount int64
	m         map[string][]float64
	v         map[string][]float64
	mutex     sync.RWMutex
}

// NewAdam creates a new Adam optimizer.
func NewAdam(params []*models.Parameter, lr, beta1, beta2, epsilon float64) (*Adam, error) {
	if err := checkParameters(params, lr); err != nil {
		return nil, err
	}
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, errors.Errorf("betas must be in [0, 1), got %g/%g", beta1, beta2)
	}
	return &Adam{
		params:  params,
		lr:      lr,
		beta1:   beta1,
		beta2:   beta2,
		epsilon: epsilon,
		m:       make(map[string][]float64),
		v:       make(map[string][]float64),
	}, nil
}

// Step performs a single optimization step.
func (o *Adam) Step() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.stepCount++
	bc1 := 1 - math.Pow(o.beta1, float64(o.stepCount))
	bc2 := 1 - math.Pow(o.beta2, float64(o.stepCount))

	for _, p := range o.params {
		data := p.Data.Data().([]float64)
		grad := p.Grad.Data().([]float64)
		m := o.m[p.Name]
		v := o.v[p.Name]
		if m == nil {
			m = make([]float64, len(data))
			v = make([]float64, len(data))
			o.m[p.Name] = m
			o.v[p.Name] = v
		}
		for i := range data {
			g := grad[i]
			m[i] = o.beta1*m[i] + (1-o.beta1)*g
			v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			data[i] -= o.lr * mHat / (math.Sqrt(vHat) + o.epsilon)
		}
	}
	return nil
}

// ZeroGrad resets all parameter gradients.
func (o *Adam) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (o *Adam) GetLR() float64 {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.lr
}

// SetLR sets the learning rate.
func (o *Adam) SetLR(lr float64) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.lr = lr
}

// State snapshots hyperparameters, step count and moment buffers.
func (o *Adam) State() checkpoints.OptimizerState {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	st := checkpoints.OptimizerState{
		Type:      "adam",
		LR:        o.lr,
		StepCount: o.stepCount,
		Parameters: map[string]float64{
			"beta1":   o.beta1,
			"beta2":   o.beta2,
			"epsilon": o.epsilon,
		},
	}
	for _, p := range o.params {
		if m, ok := o.m[p.Name]; ok {
			shape := append([]int(nil), []int(p.Data.Shape())...)
			st.StateData = append(st.StateData,
				checkpoints.OptimizerTensor{Name: "m/" + p.Name, Shape: shape, Data: append([]float64(nil), m...)},
				checkpoints.OptimizerTensor{Name: "v/" + p.Name, Shape: shape, Data: append([]float64(nil), o.v[p.Name]...)},
			)
		}
	}
	return st
}

// LoadState restores hyperparameters, step count and moment buffers
// from a snapshot. The snapshot itself is only read.
func (o *Adam) LoadState(st checkpoints.OptimizerState) error {
	if st.Type != "" && st.Type != "adam" {
		return errors.Errorf("cannot restore %q state into adam", st.Type)
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if st.LR > 0 {
		o.lr = st.LR
	}
	o.stepCount = st.StepCount
	if b, ok := st.Parameters["beta1"]; ok {
		o.beta1 = b
	}
	if b, ok := st.Parameters["beta2"]; ok {
		o.beta2 = b
	}
	if e, ok := st.Parameters["epsilon"]; ok {
		o.epsilon = e
	}

	mBuf := make(map[string][]float64)
	vBuf := make(map[string][]float64)
	byName := paramsByName(o.params)
	for _, tns := range st.StateData {
		var dst map[string][]float64
		var name string
		switch {
		case strings.HasPrefix(tns.Name, "m/"):
			dst, name = mBuf, strings.TrimPrefix(tns.Name, "m/")
		case strings.HasPrefix(tns.Name, "v/"):
			dst, name = vBuf, strings.TrimPrefix(tns.Name, "v/")
		default:
			return errors.Errorf("unexpected adam state tensor %q", tns.Name)
		}
		buf, err := matchStateTensor(byName, name, tns)
		if err != nil {
			return err
		}
		dst[name] = buf
	}
	for name := range mBuf {
		if _, ok := vBuf[name]; !ok {
			return errors.Errorf("state tensor m/%s has no matching v/%s", name, name)
		}
	}
	o.m = mBuf
	o.v = vBuf
	return nil
}

func paramsByName(params []*models.Parameter) map[string]*models.Parameter {
	byName := make(map[string]*models.Parameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	return byName
}

// matchStateTensor validates a snapshot buffer against its parameter
// and returns a fresh copy of the data.
func matchStateTensor(byName map[string]*models.Parameter, name string, tns checkpoints.OptimizerTensor) ([]float64, error) {
	p, ok := byName[name]
	if !ok {
		return nil, errors.Errorf("state tensor %q has no matching parameter", tns.Name)
	}
	want := len(p.Data.Data().([]float64))
	if len(tns.Data) != want {
		return nil, errors.Errorf("state tensor %q has %d values, want %d", tns.Name, len(tns.Data), want)
	}
	return append([]float64(nil), tns.Data...), nil
}

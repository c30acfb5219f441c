package training

import (
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/kihoon96/Baseline/checkpoints"
	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/datasets"
	"github.com/kihoon96/Baseline/models"
)

// Trainer runs the optimization loop: one Train call per epoch, one
// SaveEpoch call to snapshot what the epoch produced.
type Trainer struct {
	cfg     *config.Config
	model   models.TrainableModel
	state   *TrainState
	sources []datasets.Dataset
	loader  BatchSource
	saver   *checkpoints.Saver
}

// NewTrainer wires a model, its training state and the batch stream
// together.
func NewTrainer(cfg *config.Config, model models.TrainableModel, state *TrainState, sources []datasets.Dataset, loader BatchSource, saver *checkpoints.Saver) (*Trainer, error) {
	if model == nil {
		return nil, errors.New("trainer needs a model")
	}
	if state == nil {
		return nil, errors.New("trainer needs a training state")
	}
	if loader == nil {
		return nil, errors.New("trainer needs a batch source")
	}
	return &Trainer{
		cfg:     cfg,
		model:   model,
		state:   state,
		sources: sources,
		loader:  loader,
		saver:   saver,
	}, nil
}

// Model returns the model under training.
func (t *Trainer) Model() models.TrainableModel {
	return t.model
}

// State returns the training state the trainer advances.
func (t *Trainer) State() *TrainState {
	return t.state
}

// Train runs one full pass over the training stream and returns the
// weighted per-term losses averaged over its batches. The average is
// appended to the loss history.
func (t *Trainer) Train(epoch int) (EpochLoss, error) {
	t.model.Train()
	t.loader.Reset()

	bar := NewProgressBar(fmt.Sprintf("Epoch%d/%d", epoch, t.cfg.Train.EndEpoch), t.loader.Len())
	var sum EpochLoss
	var shown map[string]float64
	batches := 0
	for {
		batch, err := t.loader.Next()
		if err != nil {
			return EpochLoss{}, errors.Wrapf(err, "epoch %d batch %d", epoch, batches)
		}
		if batch == nil {
			break
		}
		loss, err := t.step(batch)
		if err != nil {
			return EpochLoss{}, errors.Wrapf(err, "epoch %d batch %d", epoch, batches)
		}
		sum = addLosses(sum, loss)
		batches++

		if shown == nil || batches%t.cfg.Train.PrintFreq == 0 {
			shown = map[string]float64{
				"joint":      loss.Joint,
				"smpl_joint": loss.SMPLJoint,
				"proj":       loss.Proj,
				"pose":       loss.PoseParam,
				"shape":      loss.ShapeParam,
				"prior":      loss.Prior,
			}
		}
		bar.Update(batches, shown)
	}
	bar.Finish()
	if batches == 0 {
		return EpochLoss{}, errors.Errorf("epoch %d produced no batches", epoch)
	}

	avg := scaleLosses(sum, 1/float64(batches))
	t.state.LossHistory.Append(avg)
	log.Printf("Epoch%d Loss: %.4f", epoch, avg.Total)
	return avg, nil
}

// step runs forward, loss, backward and one optimizer update for a
// single batch, returning the weighted loss values.
func (t *Trainer) step(batch *Batch) (EpochLoss, error) {
	t.state.Optimizer.ZeroGrad()

	img, err := batch.Field(datasets.FieldImage)
	if err != nil {
		return EpochLoss{}, err
	}
	pred, err := t.model.Forward(img)
	if err != nil {
		return EpochLoss{}, err
	}

	targets := make(map[string]*tensor.Dense, 8)
	for _, name := range []string{
		datasets.FieldJointCam, datasets.FieldSMPLJointCam, datasets.FieldJointImg,
		datasets.FieldPose, datasets.FieldShape,
		datasets.FieldJointValid, datasets.FieldHas3D, datasets.FieldHasParam,
	} {
		targets[name], err = batch.Field(name)
		if err != nil {
			return EpochLoss{}, err
		}
	}
	jointValid := targets[datasets.FieldJointValid]
	hasParam := unsqueeze(targets[datasets.FieldHasParam])
	jointMask, err := mulMask(jointValid, targets[datasets.FieldHas3D])
	if err != nil {
		return EpochLoss{}, err
	}

	crit := t.state.Criterion
	w := t.cfg.Train.Weights
	var loss EpochLoss

	jointRaw, err := crit.JointCam.Forward(pred.JointCam, targets[datasets.FieldJointCam], jointMask)
	if err != nil {
		return EpochLoss{}, errors.Wrap(err, "joint loss")
	}
	smplJointRaw, err := crit.SMPLJointCam.Forward(pred.JointCam, targets[datasets.FieldSMPLJointCam], hasParam)
	if err != nil {
		return EpochLoss{}, errors.Wrap(err, "smpl joint loss")
	}
	projRaw, err := crit.JointProj.Forward(pred.JointProj, targets[datasets.FieldJointImg], jointValid)
	if err != nil {
		return EpochLoss{}, errors.Wrap(err, "proj loss")
	}
	poseRaw, err := crit.PoseParam.Forward(pred.Pose, targets[datasets.FieldPose], targets[datasets.FieldHasParam])
	if err != nil {
		return EpochLoss{}, errors.Wrap(err, "pose loss")
	}
	shapeRaw, err := crit.ShapeParam.Forward(pred.Shape, targets[datasets.FieldShape], targets[datasets.FieldHasParam])
	if err != nil {
		return EpochLoss{}, errors.Wrap(err, "shape loss")
	}
	priorRaw, err := crit.Prior.Forward(pred.Pose, pred.Shape)
	if err != nil {
		return EpochLoss{}, errors.Wrap(err, "prior loss")
	}

	loss.Joint = w.Joint * jointRaw
	loss.SMPLJoint = w.SMPLJoint * smplJointRaw
	loss.Proj = w.Proj * projRaw
	loss.PoseParam = w.Pose * poseRaw
	loss.ShapeParam = w.Shape * shapeRaw
	loss.Prior = w.Prior * priorRaw
	loss.Total = loss.Joint + loss.SMPLJoint + loss.Proj + loss.PoseParam + loss.ShapeParam + loss.Prior

	grad, err := t.lossGrads(pred, targets, jointValid, hasParam, jointMask)
	if err != nil {
		return EpochLoss{}, err
	}
	if err := t.model.Backward(grad); err != nil {
		return EpochLoss{}, errors.Wrap(err, "backward")
	}
	if err := t.state.Optimizer.Step(); err != nil {
		return EpochLoss{}, errors.Wrap(err, "optimizer step")
	}
	return loss, nil
}

// lossGrads merges the per-term gradients into one gradient per model
// head, each scaled by its configured weight. The camera joints head
// collects both joint terms; pose and shape collect their parameter
// term plus the prior. Nothing supervises the mesh head directly.
func (t *Trainer) lossGrads(pred *models.Prediction, targets map[string]*tensor.Dense, jointValid, hasParam, jointMask *tensor.Dense) (*models.OutputGrad, error) {
	crit := t.state.Criterion
	w := t.cfg.Train.Weights

	gJoint, err := crit.JointCam.Backward(pred.JointCam, targets[datasets.FieldJointCam], jointMask)
	if err != nil {
		return nil, errors.Wrap(err, "joint grad")
	}
	gSMPLJoint, err := crit.SMPLJointCam.Backward(pred.JointCam, targets[datasets.FieldSMPLJointCam], hasParam)
	if err != nil {
		return nil, errors.Wrap(err, "smpl joint grad")
	}
	gProj, err := crit.JointProj.Backward(pred.JointProj, targets[datasets.FieldJointImg], jointValid)
	if err != nil {
		return nil, errors.Wrap(err, "proj grad")
	}
	gPose, err := crit.PoseParam.Backward(pred.Pose, targets[datasets.FieldPose], targets[datasets.FieldHasParam])
	if err != nil {
		return nil, errors.Wrap(err, "pose grad")
	}
	gShape, err := crit.ShapeParam.Backward(pred.Shape, targets[datasets.FieldShape], targets[datasets.FieldHasParam])
	if err != nil {
		return nil, errors.Wrap(err, "shape grad")
	}
	gPriorPose, gPriorShape, err := crit.Prior.Backward(pred.Pose, pred.Shape)
	if err != nil {
		return nil, errors.Wrap(err, "prior grad")
	}

	jointCam := addScaled(nil, gJoint, w.Joint)
	jointCam = addScaled(jointCam, gSMPLJoint, w.SMPLJoint)
	pose := addScaled(nil, gPose, w.Pose)
	pose = addScaled(pose, gPriorPose, w.Prior)
	shape := addScaled(nil, gShape, w.Shape)
	shape = addScaled(shape, gPriorShape, w.Prior)

	return &models.OutputGrad{
		JointCam:  jointCam,
		JointProj: addScaled(nil, gProj, w.Proj),
		Pose:      pose,
		Shape:     shape,
	}, nil
}

// SaveEpoch snapshots the model, optimizer, scheduler and histories
// after the given epoch.
func (t *Trainer) SaveEpoch(epoch int) error {
	if t.saver == nil {
		return nil
	}
	opt := t.state.Optimizer.State()
	sched := t.state.Scheduler.State()
	rec := &checkpoints.Record{
		Epoch:     epoch,
		Model:     checkpoints.WeightsFromParameters(t.model.Parameters()),
		Optimizer: &opt,
		Scheduler: &sched,
		TrainLog:  t.state.LossHistory.Record(),
		TestLog:   t.state.ErrorHistory.Record(),
		Metadata: checkpoints.Metadata{
			CreatedAt: time.Now(),
			Model:     t.cfg.Model.Name,
		},
	}
	return t.saver.Save(rec)
}

func addLosses(a, b EpochLoss) EpochLoss {
	return EpochLoss{
		Total:      a.Total + b.Total,
		Joint:      a.Joint + b.Joint,
		SMPLJoint:  a.SMPLJoint + b.SMPLJoint,
		Proj:       a.Proj + b.Proj,
		PoseParam:  a.PoseParam + b.PoseParam,
		ShapeParam: a.ShapeParam + b.ShapeParam,
		Prior:      a.Prior + b.Prior,
	}
}

func scaleLosses(l EpochLoss, s float64) EpochLoss {
	return EpochLoss{
		Total:      l.Total * s,
		Joint:      l.Joint * s,
		SMPLJoint:  l.SMPLJoint * s,
		Proj:       l.Proj * s,
		PoseParam:  l.PoseParam * s,
		ShapeParam: l.ShapeParam * s,
		Prior:      l.Prior * s,
	}
}

// unsqueeze appends a trailing singleton axis, so a [N, 1] flag mask
// can broadcast against [N, J, C] coordinates.
func unsqueeze(m *tensor.Dense) *tensor.Dense {
	shp := append([]int(nil), []int(m.Shape())...)
	shp = append(shp, 1)
	return tensor.New(tensor.WithShape(shp...), tensor.WithBacking(m.Data().([]float64)))
}

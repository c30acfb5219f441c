package training

import (
	"log"

	"github.com/pkg/errors"

	"github.com/kihoon96/Baseline/checkpoints"
	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/models"
)

// TrainState bundles everything a training run threads through its
// epochs: the loss criterion, optimizer, schedule, metric histories
// and the first epoch to run.
type TrainState struct {
	Criterion    *Criterion
	Optimizer    Optimizer
	Scheduler    *MultiStepLR
	LossHistory  *LossHistory
	ErrorHistory *ErrorHistory
	BeginEpoch   int
}

// TrainSetup builds a fresh training state for the model and, when a
// snapshot record is given, restores weights, optimizer buffers,
// schedule position and histories from it. The record is only read,
// so restoring twice from the same record gives the same state. The
// configured milestones and LR factor always win over whatever the
// snapshot carried.
func TrainSetup(cfg *config.Config, model models.TrainableModel, rec *checkpoints.Record) (*TrainState, error) {
	opt, err := NewOptimizer(cfg.Train, model.Parameters())
	if err != nil {
		return nil, err
	}
	sched, err := NewMultiStepLR(opt, cfg.Train.LRStep, cfg.Train.LRFactor)
	if err != nil {
		return nil, err
	}

	st := &TrainState{
		Criterion:    NewCriterion(),
		Optimizer:    opt,
		Scheduler:    sched,
		LossHistory:  &LossHistory{},
		ErrorHistory: &ErrorHistory{},
		BeginEpoch:   1,
	}
	if rec == nil {
		return st, nil
	}

	if err := checkpoints.ApplyWeights(model.Parameters(), rec.Model); err != nil {
		return nil, errors.Wrap(err, "restore model weights")
	}
	if rec.Optimizer != nil {
		if err := opt.LoadState(*rec.Optimizer); err != nil {
			return nil, errors.Wrap(err, "restore optimizer state")
		}
	}
	if rec.Scheduler != nil {
		if err := sched.LoadState(*rec.Scheduler); err != nil {
			return nil, errors.Wrap(err, "restore scheduler state")
		}
	}
	sched.SetSchedule(cfg.Train.LRStep, cfg.Train.LRFactor)

	st.LossHistory = LossHistoryFromRecord(rec.TrainLog)
	st.ErrorHistory = ErrorHistoryFromRecord(rec.TestLog)
	st.BeginEpoch = rec.Epoch + 1

	log.Printf("===> resume from epoch %d, current lr: %.0e, milestones: %v, lr factor: %.0e",
		rec.Epoch, opt.GetLR(), sched.Milestones(), sched.Gamma())
	return st, nil
}

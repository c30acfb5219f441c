package training

import "github.com/kihoon96/Baseline/eval"

// EpochLoss holds the weighted per-term training losses averaged over
// one epoch.
type EpochLoss struct {
	Total      float64
	Joint      float64
	SMPLJoint  float64
	Proj       float64
	PoseParam  float64
	ShapeParam float64
	Prior      float64
}

// EpochError holds the evaluation metrics for one epoch, in
// millimeters.
type EpochError struct {
	MPJPE   float64
	PAMPJPE float64
	MPVPE   float64
}

// LossHistory accumulates one EpochLoss per trained epoch.
type LossHistory struct {
	epochs []EpochLoss
}

// Append records the losses of one more epoch.
func (h *LossHistory) Append(l EpochLoss) {
	h.epochs = append(h.epochs, l)
}

// Len returns the number of recorded epochs.
func (h *LossHistory) Len() int {
	return len(h.epochs)
}

// At returns the losses recorded for epoch index i.
func (h *LossHistory) At(i int) EpochLoss {
	return h.epochs[i]
}

// Record exports the history as named series for snapshots and plots.
func (h *LossHistory) Record() map[string][]float64 {
	rec := map[string][]float64{
		"total_loss":       make([]float64, len(h.epochs)),
		"joint_loss":       make([]float64, len(h.epochs)),
		"smpl_joint_loss":  make([]float64, len(h.epochs)),
		"proj_loss":        make([]float64, len(h.epochs)),
		"pose_param_loss":  make([]float64, len(h.epochs)),
		"shape_param_loss": make([]float64, len(h.epochs)),
		"prior_loss":       make([]float64, len(h.epochs)),
	}
	for i, l := range h.epochs {
		rec["total_loss"][i] = l.Total
		rec["joint_loss"][i] = l.Joint
		rec["smpl_joint_loss"][i] = l.SMPLJoint
		rec["proj_loss"][i] = l.Proj
		rec["pose_param_loss"][i] = l.PoseParam
		rec["shape_param_loss"][i] = l.ShapeParam
		rec["prior_loss"][i] = l.Prior
	}
	return rec
}

// LossHistoryFromRecord rebuilds a history from snapshot series. A
// nil record yields an empty history; the record is only read.
func LossHistoryFromRecord(rec map[string][]float64) *LossHistory {
	h := &LossHistory{}
	n := len(rec["total_loss"])
	for i := 0; i < n; i++ {
		h.Append(EpochLoss{
			Total:      seriesAt(rec, "total_loss", i),
			Joint:      seriesAt(rec, "joint_loss", i),
			SMPLJoint:  seriesAt(rec, "smpl_joint_loss", i),
			Proj:       seriesAt(rec, "proj_loss", i),
			PoseParam:  seriesAt(rec, "pose_param_loss", i),
			ShapeParam: seriesAt(rec, "shape_param_loss", i),
			Prior:      seriesAt(rec, "prior_loss", i),
		})
	}
	return h
}

// ErrorHistory accumulates one EpochError per evaluated epoch.
type ErrorHistory struct {
	epochs []EpochError
}

// Append records the metrics of one more evaluation.
func (h *ErrorHistory) Append(e EpochError) {
	h.epochs = append(h.epochs, e)
}

// Len returns the number of recorded evaluations.
func (h *ErrorHistory) Len() int {
	return len(h.epochs)
}

// At returns the metrics recorded for evaluation index i.
func (h *ErrorHistory) At(i int) EpochError {
	return h.epochs[i]
}

// Record exports the history as named series for snapshots and plots,
// keyed by eval.Metric keys.
func (h *ErrorHistory) Record() map[string][]float64 {
	rec := map[string][]float64{
		eval.MPJPE.Key():   make([]float64, len(h.epochs)),
		eval.PAMPJPE.Key(): make([]float64, len(h.epochs)),
		eval.MPVPE.Key():   make([]float64, len(h.epochs)),
	}
	for i, e := range h.epochs {
		rec[eval.MPJPE.Key()][i] = e.MPJPE
		rec[eval.PAMPJPE.Key()][i] = e.PAMPJPE
		rec[eval.MPVPE.Key()][i] = e.MPVPE
	}
	return rec
}

// ErrorHistoryFromRecord rebuilds a history from snapshot series. A
// nil record yields an empty history; the record is only read.
func ErrorHistoryFromRecord(rec map[string][]float64) *ErrorHistory {
	h := &ErrorHistory{}
	n := len(rec[eval.MPJPE.Key()])
	for i := 0; i < n; i++ {
		h.Append(EpochError{
			MPJPE:   seriesAt(rec, eval.MPJPE.Key(), i),
			PAMPJPE: seriesAt(rec, eval.PAMPJPE.Key(), i),
			MPVPE:   seriesAt(rec, eval.MPVPE.Key(), i),
		})
	}
	return h
}

func seriesAt(rec map[string][]float64, key string, i int) float64 {
	s := rec[key]
	if i >= len(s) {
		return 0
	}
	return s[i]
}

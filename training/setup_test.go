package training

import (
	"testing"

	"github.com/kihoon96/Baseline/checkpoints"
	"github.com/kihoon96/Baseline/config"
	"github.com/kihoon96/Baseline/models"
)

func smallTrainConfig() config.Config {
	cfg := config.Default()
	cfg.Model = config.ModelConfig{
		Name:      "linear",
		Seed:      5,
		JointNum:  4,
		VertexNum: 6,
		PoseDim:   6,
		ShapeDim:  3,
		ImageSize: 4,
	}
	cfg.Train.LR = 1e-3
	cfg.Train.LRStep = []int{4, 6}
	cfg.Train.LRFactor = 0.1
	return cfg
}

func newTrainable(t *testing.T, cfg config.Config) models.TrainableModel {
	t.Helper()
	m, err := models.New(cfg.Model, true)
	if err != nil {
		t.Fatalf("models.New: %v", err)
	}
	tm, ok := m.(models.TrainableModel)
	if !ok {
		t.Fatalf("model %q is not trainable", cfg.Model.Name)
	}
	return tm
}

func TestTrainSetupFresh(t *testing.T) {
	cfg := smallTrainConfig()
	model := newTrainable(t, cfg)

	st, err := TrainSetup(&cfg, model, nil)
	if err != nil {
		t.Fatalf("TrainSetup: %v", err)
	}
	if st.BeginEpoch != 1 {
		t.Errorf("BeginEpoch = %d, want 1", st.BeginEpoch)
	}
	if st.LossHistory.Len() != 0 || st.ErrorHistory.Len() != 0 {
		t.Errorf("fresh state carries history: %d/%d", st.LossHistory.Len(), st.ErrorHistory.Len())
	}
	if st.Criterion == nil {
		t.Error("missing criterion")
	}
	if lr := st.Optimizer.GetLR(); !close64(lr, 1e-3) {
		t.Errorf("lr = %v, want 1e-3", lr)
	}
	got := st.Scheduler.Milestones()
	if len(got) != 2 || got[0] != 4 || got[1] != 6 {
		t.Errorf("milestones = %v, want [4 6]", got)
	}
}

func TestTrainSetupRestore(t *testing.T) {
	cfg := smallTrainConfig()
	model := newTrainable(t, cfg)

	// run a couple of steps so the snapshot carries real state
	st, err := TrainSetup(&cfg, model, nil)
	if err != nil {
		t.Fatalf("TrainSetup: %v", err)
	}
	for _, p := range model.Parameters() {
		g := p.Grad.Data().([]float64)
		for i := range g {
			g[i] = 0.01 * float64(i%7)
		}
	}
	if err := st.Optimizer.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	st.Scheduler.Step()
	st.LossHistory.Append(EpochLoss{Total: 3.5, Joint: 1.5})
	st.ErrorHistory.Append(EpochError{MPJPE: 120, PAMPJPE: 80, MPVPE: 140})

	optState := st.Optimizer.State()
	schedState := st.Scheduler.State()
	rec := &checkpoints.Record{
		Epoch:     1,
		Model:     checkpoints.WeightsFromParameters(model.Parameters()),
		Optimizer: &optState,
		Scheduler: &schedState,
		TrainLog:  st.LossHistory.Record(),
		TestLog:   st.ErrorHistory.Record(),
	}

	// scramble the weights, the restore must bring them back
	fresh := newTrainable(t, cfg)
	for _, p := range fresh.Parameters() {
		d := p.Data.Data().([]float64)
		for i := range d {
			d[i] = -1
		}
	}

	restored, err := TrainSetup(&cfg, fresh, rec)
	if err != nil {
		t.Fatalf("TrainSetup restore: %v", err)
	}
	if restored.BeginEpoch != 2 {
		t.Errorf("BeginEpoch = %d, want 2", restored.BeginEpoch)
	}
	if restored.LossHistory.Len() != 1 || restored.ErrorHistory.Len() != 1 {
		t.Fatalf("history lengths = %d/%d, want 1/1", restored.LossHistory.Len(), restored.ErrorHistory.Len())
	}
	if got := restored.LossHistory.At(0).Total; !close64(got, 3.5) {
		t.Errorf("restored total loss = %v, want 3.5", got)
	}
	if got := restored.ErrorHistory.At(0).MPJPE; !close64(got, 120) {
		t.Errorf("restored MPJPE = %v, want 120", got)
	}

	want := model.Parameters()
	have := fresh.Parameters()
	for i := range want {
		wd := want[i].Data.Data().([]float64)
		hd := have[i].Data.Data().([]float64)
		for j := range wd {
			if !close64(wd[j], hd[j]) {
				t.Fatalf("parameter %s[%d] = %v, want %v", want[i].Name, j, hd[j], wd[j])
			}
		}
	}

	if restored.Scheduler.LastEpoch() != 1 {
		t.Errorf("scheduler position = %d, want 1", restored.Scheduler.LastEpoch())
	}
}

func TestTrainSetupConfigMilestonesWin(t *testing.T) {
	cfg := smallTrainConfig()
	model := newTrainable(t, cfg)

	rec := &checkpoints.Record{
		Epoch: 3,
		Model: checkpoints.WeightsFromParameters(model.Parameters()),
		Scheduler: &checkpoints.SchedulerState{
			Type:       "multistep",
			Milestones: []int{50, 60},
			Gamma:      0.5,
			LastEpoch:  3,
		},
	}

	st, err := TrainSetup(&cfg, model, rec)
	if err != nil {
		t.Fatalf("TrainSetup: %v", err)
	}
	got := st.Scheduler.Milestones()
	if len(got) != 2 || got[0] != 4 || got[1] != 6 {
		t.Errorf("milestones = %v, want the configured [4 6]", got)
	}
	if g := st.Scheduler.Gamma(); !close64(g, 0.1) {
		t.Errorf("gamma = %v, want the configured 0.1", g)
	}
	if st.Scheduler.LastEpoch() != 3 {
		t.Errorf("schedule position = %d, want the snapshot's 3", st.Scheduler.LastEpoch())
	}
}

func TestTrainSetupRestoreIsRepeatable(t *testing.T) {
	cfg := smallTrainConfig()
	model := newTrainable(t, cfg)
	rec := &checkpoints.Record{
		Epoch: 2,
		Model: checkpoints.WeightsFromParameters(model.Parameters()),
	}

	a, err := TrainSetup(&cfg, model, rec)
	if err != nil {
		t.Fatalf("first TrainSetup: %v", err)
	}
	b, err := TrainSetup(&cfg, model, rec)
	if err != nil {
		t.Fatalf("second TrainSetup: %v", err)
	}
	if a.BeginEpoch != b.BeginEpoch {
		t.Errorf("BeginEpoch differs: %d vs %d", a.BeginEpoch, b.BeginEpoch)
	}
	if len(rec.Model) == 0 {
		t.Error("record was consumed by the restore")
	}
}

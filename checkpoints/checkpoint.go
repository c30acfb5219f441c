// Package checkpoints persists and restores training state as JSON
// snapshots: model weights, optimizer buffers, scheduler position and
// the per-epoch metric history.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kihoon96/Baseline/models"
)

// ErrNoSnapshot is returned by Latest when the directory holds no
// snapshots.
var ErrNoSnapshot = errors.New("no snapshot found")

// WeightTensor represents one named parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// OptimizerTensor represents one per-parameter optimizer buffer, such
// as a momentum or moment estimate.
type OptimizerTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// OptimizerState captures an optimizer's scalar hyperparameters and
// every per-parameter buffer it accumulated.
type OptimizerState struct {
	Type       string             `json:"type"`
	LR         float64            `json:"lr"`
	StepCount  int64              `json:"step_count"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	StateData  []OptimizerTensor  `json:"state_data,omitempty"`
}

// SchedulerState captures the learning-rate schedule position.
type SchedulerState struct {
	Type       string  `json:"type"`
	Milestones []int   `json:"milestones"`
	Gamma      float64 `json:"gamma"`
	LastEpoch  int     `json:"last_epoch"`
}

// Metadata describes a snapshot's provenance.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	Model       string    `json:"model,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Record represents one complete snapshot. Restore paths copy out of
// a loaded Record and never write back into it, so the same Record
// can serve repeatedly as a fixture.
type Record struct {
	Epoch     int                  `json:"epoch"`
	Model     []WeightTensor       `json:"model_state_dict"`
	Optimizer *OptimizerState      `json:"optim_state_dict,omitempty"`
	Scheduler *SchedulerState      `json:"scheduler_state_dict,omitempty"`
	TrainLog  map[string][]float64 `json:"train_log,omitempty"`
	TestLog   map[string][]float64 `json:"test_log,omitempty"`
	Metadata  Metadata             `json:"metadata"`
}

// Save writes a record to path as indented JSON.
func Save(path string, rec *Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create checkpoint %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return errors.Wrapf(err, "encode checkpoint %s", path)
	}
	return nil
}

// Load reads a record from path. A missing or corrupt file is an
// error; resuming from a bad snapshot must abort startup.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint %s", path)
	}
	defer f.Close()

	var rec Record
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	return &rec, nil
}

// WeightsFromParameters snapshots model parameters into weight
// tensors, copying their data.
func WeightsFromParameters(params []*models.Parameter) []WeightTensor {
	out := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		shape := append([]int(nil), []int(p.Data.Shape())...)
		data := append([]float64(nil), p.Data.Data().([]float64)...)
		out = append(out, WeightTensor{Name: p.Name, Shape: shape, Data: data})
	}
	return out
}

// ApplyWeights copies checkpointed tensors into matching parameters.
// Every parameter must find a tensor of identical name and size.
func ApplyWeights(params []*models.Parameter, weights []WeightTensor) error {
	byName := make(map[string]*WeightTensor, len(weights))
	for i := range weights {
		byName[weights[i].Name] = &weights[i]
	}
	for _, p := range params {
		wt, ok := byName[p.Name]
		if !ok {
			return errors.Errorf("checkpoint has no tensor %q", p.Name)
		}
		dst := p.Data.Data().([]float64)
		if len(wt.Data) != len(dst) {
			return errors.Errorf("tensor %q has %d values, model expects %d", p.Name, len(wt.Data), len(dst))
		}
		copy(dst, wt.Data)
	}
	return nil
}

// Saver handles writing epoch snapshots into a directory, pruning old
// ones down to MaxKeep (0 keeps everything).
type Saver struct {
	Dir     string
	MaxKeep int
}

// Path returns the snapshot path for an epoch.
func (s *Saver) Path(epoch int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("snapshot_%d.json", epoch))
}

// Save writes the record under its epoch's path.
func (s *Saver) Save(rec *Record) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "create snapshot dir %s", s.Dir)
	}
	path := s.Path(rec.Epoch)
	if err := Save(path, rec); err != nil {
		return err
	}
	log.Printf("Write snapshot into %s", path)
	return s.prune()
}

// Latest returns the snapshot with the highest epoch, or ErrNoSnapshot.
func (s *Saver) Latest() (string, int, error) {
	epochs, err := s.list()
	if err != nil {
		return "", 0, err
	}
	if len(epochs) == 0 {
		return "", 0, ErrNoSnapshot
	}
	last := epochs[len(epochs)-1]
	return s.Path(last), last, nil
}

func (s *Saver) list() ([]int, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot dir %s", s.Dir)
	}
	var epochs []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".json"))
		if err != nil {
			continue
		}
		epochs = append(epochs, n)
	}
	sort.Ints(epochs)
	return epochs, nil
}

func (s *Saver) prune() error {
	if s.MaxKeep <= 0 {
		return nil
	}
	epochs, err := s.list()
	if err != nil {
		return err
	}
	for len(epochs) > s.MaxKeep {
		if err := os.Remove(s.Path(epochs[0])); err != nil {
			return errors.Wrapf(err, "prune snapshot %d", epochs[0])
		}
		epochs = epochs[1:]
	}
	return nil
}

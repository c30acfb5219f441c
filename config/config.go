package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config carries every knob the training and evaluation drivers read.
// Components receive it (or a sub-struct) explicitly; nothing in the
// package tree reads configuration from globals or the environment.
type Config struct {
	Train  TrainConfig  `json:"train"`
	Test   TestConfig   `json:"test"`
	Model  ModelConfig  `json:"model"`
	Data   DataConfig   `json:"data"`
	Output OutputConfig `json:"output"`
}

// TrainConfig controls the optimization loop.
type TrainConfig struct {
	BatchSize     int         `json:"batch_size"`
	EndEpoch      int         `json:"end_epoch"`
	LR            float64     `json:"lr"`
	LRStep        []int       `json:"lr_step"`
	LRFactor      float64     `json:"lr_factor"`
	Optimizer     string      `json:"optimizer"`
	Shuffle       bool        `json:"shuffle"`
	PrintFreq     int         `json:"print_freq"`
	Workers       int         `json:"workers"`
	PrefetchDepth int         `json:"prefetch_depth"`
	Seed          int64       `json:"seed"`
	Resume        bool        `json:"resume"`
	Weights       LossWeights `json:"loss_weights"`
}

// LossWeights scales the six loss components before they are summed
// into the total training loss.
type LossWeights struct {
	Joint     float64 `json:"joint"`
	SMPLJoint float64 `json:"smpl_joint"`
	Proj      float64 `json:"proj"`
	Pose      float64 `json:"pose"`
	Shape     float64 `json:"shape"`
	Prior     float64 `json:"prior"`
}

// TestConfig controls evaluation.
type TestConfig struct {
	BatchSize int  `json:"batch_size"`
	Workers   int  `json:"workers"`
	Vis       bool `json:"vis"`
	VisFreq   int  `json:"vis_freq"`
}

// ModelConfig selects and sizes the network.
type ModelConfig struct {
	Name      string `json:"name"`
	Seed      int64  `json:"seed"`
	JointNum  int    `json:"joint_num"`
	VertexNum int    `json:"vertex_num"`
	PoseDim   int    `json:"pose_dim"`
	ShapeDim  int    `json:"shape_dim"`
	ImageSize int    `json:"image_size"`
}

// DataConfig names the datasets each split draws from. Partition
// weights the train sources; an empty slice means equal weighting.
// BodyAsset points at the body-model JSON; empty selects the built-in
// synthetic body sized from ModelConfig.
type DataConfig struct {
	TrainList   []string  `json:"train_list"`
	TestList    []string  `json:"test_list"`
	Partition   []float64 `json:"partition"`
	MakeSameLen bool      `json:"make_same_len"`
	BodyAsset   string    `json:"body_asset"`
}

// OutputConfig roots every artifact the run writes.
type OutputConfig struct {
	Dir            string `json:"dir"`
	JournalPath    string `json:"journal_path"`
	PlotServiceURL string `json:"plot_service_url"`
}

// ModelDir is where checkpoint snapshots land.
func (o OutputConfig) ModelDir() string { return o.Dir + "/model_dump" }

// VisDir is where per-sample visualization dumps land.
func (o OutputConfig) VisDir() string { return o.Dir + "/vis" }

// GraphDir is where loss and error curve images land.
func (o OutputConfig) GraphDir() string { return o.Dir + "/graph" }

// Default returns the configuration the synthetic smoke pipeline runs
// with. Real runs overlay a JSON file on top of it via Load.
func Default() Config {
	return Config{
		Train: TrainConfig{
			BatchSize:     16,
			EndEpoch:      12,
			LR:            1e-4,
			LRStep:        []int{8, 10},
			LRFactor:      0.1,
			Optimizer:     "adam",
			Shuffle:       true,
			PrintFreq:     10,
			Workers:       4,
			PrefetchDepth: 3,
			Seed:          42,
			Weights: LossWeights{
				Joint:     1.0,
				SMPLJoint: 1.0,
				Proj:      1.0,
				Pose:      1.0,
				Shape:     0.1,
				Prior:     0.01,
			},
		},
		Test: TestConfig{
			BatchSize: 32,
			Workers:   4,
			Vis:       false,
			VisFreq:   10,
		},
		Model: ModelConfig{
			Name:      "linear",
			Seed:      1,
			JointNum:  17,
			VertexNum: 128,
			PoseDim:   72,
			ShapeDim:  10,
			ImageSize: 64,
		},
		Data: DataConfig{
			TrainList:   []string{"Synthetic"},
			TestList:    []string{"Synthetic"},
			MakeSameLen: true,
		},
		Output: OutputConfig{
			Dir: "output",
		},
	}
}

// Load reads a JSON config file over the defaults. Fields absent from
// the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "decode config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "validate config %s", path)
	}
	return cfg, nil
}

// Validate rejects configurations the drivers cannot run with.
func (c *Config) Validate() error {
	if c.Train.BatchSize <= 0 {
		return errors.Errorf("train batch size must be positive, got %d", c.Train.BatchSize)
	}
	if c.Test.BatchSize <= 0 {
		return errors.Errorf("test batch size must be positive, got %d", c.Test.BatchSize)
	}
	if c.Train.EndEpoch <= 0 {
		return errors.Errorf("end epoch must be positive, got %d", c.Train.EndEpoch)
	}
	if c.Train.LR <= 0 {
		return errors.Errorf("learning rate must be positive, got %g", c.Train.LR)
	}
	if c.Train.LRFactor <= 0 || c.Train.LRFactor > 1 {
		return errors.Errorf("lr factor must be in (0, 1], got %g", c.Train.LRFactor)
	}
	for _, s := range c.Train.LRStep {
		if s <= 0 {
			return errors.Errorf("lr step epochs must be positive, got %d", s)
		}
	}
	if c.Train.PrintFreq <= 0 {
		return errors.Errorf("print freq must be positive, got %d", c.Train.PrintFreq)
	}
	if c.Test.VisFreq <= 0 {
		return errors.Errorf("vis freq must be positive, got %d", c.Test.VisFreq)
	}
	if w := c.Train.Weights; w.Joint < 0 || w.SMPLJoint < 0 || w.Proj < 0 || w.Pose < 0 || w.Shape < 0 || w.Prior < 0 {
		return errors.New("loss weights must be non-negative")
	}
	if c.Model.JointNum <= 0 || c.Model.VertexNum <= 0 {
		return errors.Errorf("model joint/vertex counts must be positive, got %d/%d", c.Model.JointNum, c.Model.VertexNum)
	}
	if c.Model.PoseDim <= 3 {
		return errors.Errorf("pose dim must exceed the 3 root components, got %d", c.Model.PoseDim)
	}
	if c.Model.ShapeDim <= 0 {
		return errors.Errorf("shape dim must be positive, got %d", c.Model.ShapeDim)
	}
	if c.Model.ImageSize <= 0 {
		return errors.Errorf("image size must be positive, got %d", c.Model.ImageSize)
	}
	if len(c.Data.Partition) > 0 && len(c.Data.Partition) != len(c.Data.TrainList) {
		return errors.Errorf("partition has %d weights for %d train datasets", len(c.Data.Partition), len(c.Data.TrainList))
	}
	for _, p := range c.Data.Partition {
		if p < 0 {
			return errors.Errorf("partition weights must be non-negative, got %g", p)
		}
	}
	if c.Output.Dir == "" {
		return errors.New("output dir must be set")
	}
	return nil
}

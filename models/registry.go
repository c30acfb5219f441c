package models

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/kihoon96/Baseline/config"
)

// Factory builds a model sized from cfg. isTrain distinguishes
// training construction from inference-only construction.
type Factory func(cfg config.ModelConfig, isTrain bool) (Model, error)

var registry = map[string]Factory{}

// Register makes a factory available under name. Duplicate names panic.
func Register(name string, f Factory) {
	if _, dup := registry[name]; dup {
		panic("models: duplicate registration of " + name)
	}
	registry[name] = f
}

// New builds the model cfg.Name selects and puts it in the mode
// matching isTrain.
func New(cfg config.ModelConfig, isTrain bool) (Model, error) {
	f, ok := registry[cfg.Name]
	if !ok {
		return nil, errors.Errorf("unknown model %q (registered: %v)", cfg.Name, Names())
	}
	m, err := f(cfg, isTrain)
	if err != nil {
		return nil, errors.Wrapf(err, "construct model %q", cfg.Name)
	}
	if isTrain {
		m.Train()
	} else {
		m.Eval()
	}
	return m, nil
}

// Names lists registered models in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

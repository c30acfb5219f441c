package datasets

import (
	"sort"

	"github.com/pkg/errors"
)

// Factory builds a dataset for one split, applying the driver-supplied
// image transform inside Get. split is SplitTrain or SplitTest.
type Factory func(transform Transform, split string) (Dataset, error)

var registry = map[string]Factory{}

// Register makes a factory available under name. Duplicate names panic.
func Register(name string, f Factory) {
	if _, dup := registry[name]; dup {
		panic("datasets: duplicate registration of " + name)
	}
	registry[name] = f
}

// New builds the named dataset for the given split.
func New(name string, transform Transform, split string) (Dataset, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown dataset %q (registered: %v)", name, Names())
	}
	d, err := f(transform, split)
	if err != nil {
		return nil, errors.Wrapf(err, "construct dataset %q for %s", name, split)
	}
	return d, nil
}

// Names lists registered datasets in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Package training implements the epoch control loop: data loading
// and batching, the multi-term loss, optimization and scheduling,
// checkpoint-backed setup, and the train/test drivers.
package training

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/kihoon96/Baseline/datasets"
)

// Batch is a stacked mini-batch: each field holds the items' tensors
// concatenated along a new leading batch axis.
type Batch struct {
	Size   int
	Fields map[string]*tensor.Dense
}

// Field returns the named stacked tensor.
func (b *Batch) Field(name string) (*tensor.Dense, error) {
	t, ok := b.Fields[name]
	if !ok {
		return nil, errors.Errorf("batch has no field %q", name)
	}
	return t, nil
}

// LoaderConfig controls batching behavior.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	Workers   int   // parallel item fetches per batch; <=1 is sequential
	Seed      int64 // shuffle seed; 0 derives one from the clock
}

// Loader iterates a dataset in batches. Next returns (nil, nil) once
// the epoch is exhausted; Reset starts a new epoch, reshuffling when
// enabled.
type Loader struct {
	dataset datasets.Dataset
	cfg     LoaderConfig
	rng     *rand.Rand
	indices []int
	limit   int
	pos     int
}

// NewLoader validates cfg and prepares the first epoch.
func NewLoader(dataset datasets.Dataset, cfg LoaderConfig) (*Loader, error) {
	if dataset == nil {
		return nil, errors.New("loader needs a dataset")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	l := &Loader{
		dataset: dataset,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		indices: make([]int, dataset.Len()),
	}
	for i := range l.indices {
		l.indices[i] = i
	}
	l.limit = len(l.indices)
	if cfg.DropLast {
		l.limit -= l.limit % cfg.BatchSize
	}
	l.Reset()
	return l, nil
}

// Reset rewinds to the start of a new epoch.
func (l *Loader) Reset() {
	l.pos = 0
	if !l.cfg.Shuffle {
		return
	}
	for i := len(l.indices) - 1; i > 0; i-- {
		j := l.rng.Intn(i + 1)
		l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
	}
}

// DatasetLen returns the number of items in the underlying dataset,
// including any tail that drop-last skips.
func (l *Loader) DatasetLen() int { return l.dataset.Len() }

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	if l.cfg.BatchSize <= 0 {
		return 0
	}
	if l.cfg.DropLast {
		return l.limit / l.cfg.BatchSize
	}
	return (l.limit + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// HasNext reports whether the current epoch has batches left.
func (l *Loader) HasNext() bool { return l.pos < l.limit }

// Next returns the next batch, or (nil, nil) once the epoch ends.
func (l *Loader) Next() (*Batch, error) {
	if l.pos >= l.limit {
		return nil, nil
	}
	end := l.pos + l.cfg.BatchSize
	if end > l.limit {
		end = l.limit
	}
	idx := l.indices[l.pos:end]
	l.pos = end

	items, err := l.fetch(idx)
	if err != nil {
		return nil, err
	}
	return collate(items)
}

// fetch gathers items for one batch, fanning out over workers when
// configured. Results land at their slot, so batch order stays
// deterministic regardless of scheduling.
func (l *Loader) fetch(idx []int) ([]datasets.Item, error) {
	items := make([]datasets.Item, len(idx))
	if l.cfg.Workers <= 1 {
		for i, j := range idx {
			it, err := l.dataset.Get(j)
			if err != nil {
				return nil, errors.Wrapf(err, "fetch item %d", j)
			}
			items[i] = it
		}
		return items, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(idx))
	sem := make(chan struct{}, l.cfg.Workers)
	for i, j := range idx {
		wg.Add(1)
		go func(slot, item int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			it, err := l.dataset.Get(item)
			if err != nil {
				errs[slot] = errors.Wrapf(err, "fetch item %d", item)
				return
			}
			items[slot] = it
		}(i, j)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

// collate stacks items field by field along a new leading batch axis.
// Every item must carry the same fields with the same shapes.
func collate(items []datasets.Item) (*Batch, error) {
	if len(items) == 0 {
		return nil, errors.New("cannot collate an empty batch")
	}
	for i, it := range items[1:] {
		if len(it) != len(items[0]) {
			return nil, errors.Errorf("item %d has %d fields, want %d", i+1, len(it), len(items[0]))
		}
	}

	b := &Batch{Size: len(items), Fields: make(map[string]*tensor.Dense, len(items[0]))}
	for name, first := range items[0] {
		shape := first.Shape()
		per := len(first.Data().([]float64))
		backing := make([]float64, per*len(items))
		for i, it := range items {
			t, ok := it[name]
			if !ok {
				return nil, errors.Errorf("item %d is missing field %q", i, name)
			}
			data := t.Data().([]float64)
			if len(data) != per {
				return nil, errors.Errorf("field %q has %d values in item %d, want %d", name, len(data), i, per)
			}
			copy(backing[i*per:(i+1)*per], data)
		}
		b.Fields[name] = tensor.New(
			tensor.WithShape(append([]int{len(items)}, []int(shape)...)...),
			tensor.WithBacking(backing),
		)
	}
	return b, nil
}

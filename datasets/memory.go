package datasets

import "github.com/pkg/errors"

// SliceDataset serves pre-built items from memory. Tests and small
// fixtures use it; real sources decode from disk instead.
type SliceDataset struct {
	items []Item
	js    JointSet
}

// NewSliceDataset wraps items under the given joint set.
func NewSliceDataset(js JointSet, items []Item) *SliceDataset {
	return &SliceDataset{items: items, js: js}
}

// Len returns the number of items.
func (d *SliceDataset) Len() int { return len(d.items) }

// Get returns the idx-th item.
func (d *SliceDataset) Get(idx int) (Item, error) {
	if idx < 0 || idx >= len(d.items) {
		return nil, errors.Errorf("index %d out of range [0, %d)", idx, len(d.items))
	}
	return d.items[idx], nil
}

// JointSet returns the joint-set descriptor.
func (d *SliceDataset) JointSet() JointSet { return d.js }

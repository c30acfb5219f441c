package datasets

import (
	"sort"

	"github.com/pkg/errors"
)

// Composite merges several sources into one indexable train stream.
// Each source owns a contiguous band of the composite index range,
// sized by its partition weight; indices cycle modulo the source
// length inside the band. Shuffling happens in the loader, so the
// band layout itself does not need to interleave.
//
// With makeSameLen the composite spans max(len) per source, cycling
// shorter sources to match the longest; without it the composite stops
// at min(len) per source, leaving the tail of longer sources unused.
type Composite struct {
	sources []Dataset
	bands   []band
	total   int
}

type band struct {
	source Dataset
	start  int
	length int
}

// NewComposite builds the composite. An empty partition means equal
// weights; otherwise it must carry one non-negative weight per source
// with a positive sum.
func NewComposite(sources []Dataset, partition []float64, makeSameLen bool) (*Composite, error) {
	if len(sources) == 0 {
		return nil, errors.New("composite needs at least one source")
	}

	base := sources[0].Len()
	for _, s := range sources {
		if s.Len() == 0 {
			return nil, errors.Errorf("composite source %q is empty", s.JointSet().Name)
		}
		if makeSameLen && s.Len() > base {
			base = s.Len()
		}
		if !makeSameLen && s.Len() < base {
			base = s.Len()
		}
	}
	total := base * len(sources)

	if len(partition) == 0 {
		partition = make([]float64, len(sources))
		for i := range partition {
			partition[i] = 1
		}
	}
	if len(partition) != len(sources) {
		return nil, errors.Errorf("%d partition weights for %d sources", len(partition), len(sources))
	}
	sum := 0.0
	for _, w := range partition {
		if w < 0 {
			return nil, errors.Errorf("negative partition weight %g", w)
		}
		sum += w
	}
	if sum == 0 {
		return nil, errors.New("partition weights sum to zero")
	}

	counts := apportion(total, partition, sum)
	c := &Composite{sources: sources, total: total}
	start := 0
	for i, s := range sources {
		c.bands = append(c.bands, band{source: s, start: start, length: counts[i]})
		start += counts[i]
	}
	return c, nil
}

// apportion splits total across weights by largest remainder, so band
// lengths always sum exactly to total.
func apportion(total int, weights []float64, sum float64) []int {
	type rem struct {
		idx  int
		frac float64
	}
	counts := make([]int, len(weights))
	rems := make([]rem, len(weights))
	assigned := 0
	for i, w := range weights {
		exact := float64(total) * w / sum
		counts[i] = int(exact)
		assigned += counts[i]
		rems[i] = rem{idx: i, frac: exact - float64(counts[i])}
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for i := 0; i < total-assigned; i++ {
		counts[rems[i%len(rems)].idx]++
	}
	return counts
}

// Len returns the composite length.
func (c *Composite) Len() int { return c.total }

// JointSet returns the first source's descriptor; train sources are
// expected to share a joint convention.
func (c *Composite) JointSet() JointSet { return c.sources[0].JointSet() }

// Get resolves a composite index to its band and cycles inside the
// owning source.
func (c *Composite) Get(idx int) (Item, error) {
	if idx < 0 || idx >= c.total {
		return nil, errors.Errorf("index %d out of range [0, %d)", idx, c.total)
	}
	for _, b := range c.bands {
		if idx < b.start+b.length {
			return b.source.Get((idx - b.start) % b.source.Len())
		}
	}
	return nil, errors.Errorf("index %d not covered by any band", idx)
}

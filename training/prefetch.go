package training

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// BatchSource is the pull interface the epoch drivers consume: Next
// until (nil, nil), Reset to start the next epoch. *Loader implements
// it; PrefetchLoader wraps any implementation.
type BatchSource interface {
	Next() (*Batch, error)
	Reset()
	Len() int
}

type prefetchResult struct {
	batch *Batch
	err   error
}

// PrefetchLoader pulls batches from a source on a background goroutine
// ahead of consumption, up to a bounded depth, preserving the (nil,
// nil) end-of-epoch contract. It serves a single consumer; Next, Reset
// and Stop must not be called concurrently.
type PrefetchLoader struct {
	src   BatchSource
	depth int

	ch     chan prefetchResult
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   bool

	produced atomic.Int64
	consumed atomic.Int64
}

// NewPrefetchLoader wraps src and begins prefetching the first epoch.
func NewPrefetchLoader(src BatchSource, depth int) (*PrefetchLoader, error) {
	if src == nil {
		return nil, errors.New("prefetch needs a source")
	}
	if depth <= 0 {
		return nil, errors.Errorf("prefetch depth must be positive, got %d", depth)
	}
	p := &PrefetchLoader{src: src, depth: depth}
	p.start()
	return p, nil
}

func (p *PrefetchLoader) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.ch = make(chan prefetchResult, p.depth)
	p.done = false
	p.wg.Add(1)
	go p.produce(ctx, p.ch)
}

// produce fills the queue until the source ends an epoch or the
// context is canceled. The terminal (nil, nil) or error result is
// delivered through the queue like any other.
func (p *PrefetchLoader) produce(ctx context.Context, ch chan<- prefetchResult) {
	defer p.wg.Done()
	for {
		b, err := p.src.Next()
		select {
		case <-ctx.Done():
			return
		case ch <- prefetchResult{batch: b, err: err}:
			if b != nil && err == nil {
				p.produced.Add(1)
			}
		}
		if b == nil || err != nil {
			return
		}
	}
}

// Next returns the next prefetched batch, or (nil, nil) at epoch end.
func (p *PrefetchLoader) Next() (*Batch, error) {
	if p.done {
		return nil, nil
	}
	res := <-p.ch
	if res.batch == nil || res.err != nil {
		p.done = true
	} else {
		p.consumed.Add(1)
	}
	return res.batch, res.err
}

// Reset restarts prefetching for a new epoch.
func (p *PrefetchLoader) Reset() {
	p.stop()
	p.src.Reset()
	p.start()
}

// Len returns the wrapped source's batches per epoch.
func (p *PrefetchLoader) Len() int { return p.src.Len() }

// Stop terminates the producer. The loader stays unusable until the
// next Reset.
func (p *PrefetchLoader) Stop() {
	p.stop()
	p.done = true
}

func (p *PrefetchLoader) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	for len(p.ch) > 0 {
		<-p.ch
	}
}

// PrefetchStats reports queue progress counters.
type PrefetchStats struct {
	Produced int64
	Consumed int64
	Queued   int
}

// Stats snapshots the prefetch counters.
func (p *PrefetchLoader) Stats() PrefetchStats {
	return PrefetchStats{
		Produced: p.produced.Load(),
		Consumed: p.consumed.Load(),
		Queued:   len(p.ch),
	}
}

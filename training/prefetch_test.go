package training

import (
	"testing"

	"github.com/pkg/errors"
)

type failingSource struct {
	calls int
}

func (s *failingSource) Next() (*Batch, error) {
	s.calls++
	if s.calls == 1 {
		return &Batch{Size: 1}, nil
	}
	return nil, errors.New("source failed")
}

func (s *failingSource) Reset() { s.calls = 0 }
func (s *failingSource) Len() int { return 2 }

func TestPrefetchPreservesOrder(t *testing.T) {
	direct, err := NewLoader(stubSet(10), LoaderConfig{BatchSize: 3, Seed: 1})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	inner, err := NewLoader(stubSet(10), LoaderConfig{BatchSize: 3, Seed: 1})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	pf, err := NewPrefetchLoader(inner, 2)
	if err != nil {
		t.Fatalf("NewPrefetchLoader: %v", err)
	}
	defer pf.Stop()

	if pf.Len() != direct.Len() {
		t.Errorf("Len = %d, want %d", pf.Len(), direct.Len())
	}

	want := drainValues(t, direct)
	got := drainValues(t, pf)
	if len(got) != len(want) {
		t.Fatalf("batches = %d, want %d", len(got), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("batch %d item %d = %v, want %v", i, j, got[i][j], want[i][j])
			}
		}
	}

	// the terminal result repeats
	for k := 0; k < 2; k++ {
		if b, err := pf.Next(); err != nil || b != nil {
			t.Errorf("after exhaustion Next = (%v, %v), want (nil, nil)", b, err)
		}
	}
}

func TestPrefetchReset(t *testing.T) {
	inner, err := NewLoader(stubSet(8), LoaderConfig{BatchSize: 2, Seed: 1})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	pf, err := NewPrefetchLoader(inner, 3)
	if err != nil {
		t.Fatalf("NewPrefetchLoader: %v", err)
	}
	defer pf.Stop()

	// abandon the epoch after one batch, the next epoch is complete
	if b, err := pf.Next(); err != nil || b == nil {
		t.Fatalf("Next = (%v, %v)", b, err)
	}
	pf.Reset()
	if got := drainValues(t, pf); len(got) != 4 {
		t.Errorf("after mid-epoch reset got %d batches, want 4", len(got))
	}

	pf.Reset()
	if got := drainValues(t, pf); len(got) != 4 {
		t.Errorf("after end-of-epoch reset got %d batches, want 4", len(got))
	}
}

func TestPrefetchPropagatesErrors(t *testing.T) {
	pf, err := NewPrefetchLoader(&failingSource{}, 2)
	if err != nil {
		t.Fatalf("NewPrefetchLoader: %v", err)
	}
	defer pf.Stop()

	if b, err := pf.Next(); err != nil || b == nil {
		t.Fatalf("first Next = (%v, %v), want a batch", b, err)
	}
	if _, err := pf.Next(); err == nil {
		t.Fatal("expected the source error to surface")
	}
	// the stream is closed after an error
	if b, err := pf.Next(); err != nil || b != nil {
		t.Errorf("after error Next = (%v, %v), want (nil, nil)", b, err)
	}
}

func TestPrefetchStats(t *testing.T) {
	inner, err := NewLoader(stubSet(6), LoaderConfig{BatchSize: 2, Seed: 1})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	pf, err := NewPrefetchLoader(inner, 2)
	if err != nil {
		t.Fatalf("NewPrefetchLoader: %v", err)
	}
	defer pf.Stop()

	drainValues(t, pf)
	st := pf.Stats()
	if st.Produced != 3 || st.Consumed != 3 {
		t.Errorf("stats = %+v, want 3 produced and consumed", st)
	}
	if st.Queued != 0 {
		t.Errorf("queued = %d, want 0", st.Queued)
	}
}

func TestPrefetchStop(t *testing.T) {
	inner, err := NewLoader(stubSet(6), LoaderConfig{BatchSize: 2, Seed: 1})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	pf, err := NewPrefetchLoader(inner, 2)
	if err != nil {
		t.Fatalf("NewPrefetchLoader: %v", err)
	}

	pf.Stop()
	pf.Stop()
	if b, err := pf.Next(); err != nil || b != nil {
		t.Errorf("after Stop Next = (%v, %v), want (nil, nil)", b, err)
	}

	// Reset revives the stream
	pf.Reset()
	if got := drainValues(t, pf); len(got) != 3 {
		t.Errorf("after revive got %d batches, want 3", len(got))
	}
	pf.Stop()
}

func TestPrefetchRejectsBadArgs(t *testing.T) {
	if _, err := NewPrefetchLoader(nil, 2); err == nil {
		t.Error("expected error for nil source")
	}
	inner, err := NewLoader(stubSet(4), LoaderConfig{BatchSize: 2, Seed: 1})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if _, err := NewPrefetchLoader(inner, 0); err == nil {
		t.Error("expected error for non-positive depth")
	}
}

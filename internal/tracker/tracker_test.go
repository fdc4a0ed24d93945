package tracker

import (
	"sync"
	"sync/atomic"
	"testing"
)

type countingGauge struct{ n atomic.Int64 }

func (g *countingGauge) Inc() { g.n.Add(1) }
func (g *countingGauge) Dec() { g.n.Add(-1) }

func TestTrackerIncDec(t *testing.T) {
	t.Parallel()

	tr := &Tracker{}
	tr.Inc()
	if got := tr.Running(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	tr.Dec()
	if got := tr.Running(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestTrackerMirrorsGauge(t *testing.T) {
	t.Parallel()

	g := &countingGauge{}
	tr := New(g)

	done := tr.Track()
	if got := g.n.Load(); got != 1 {
		t.Fatalf("expected gauge 1, got %d", got)
	}
	done()
	if got := g.n.Load(); got != 0 {
		t.Fatalf("expected gauge 0, got %d", got)
	}
}

func TestTrackerConcurrent(t *testing.T) {
	t.Parallel()

	g := &countingGauge{}
	tr := New(g)
	const goroutines = 10
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				tr.Track()()
			}
		}()
	}
	wg.Wait()

	if got := tr.Running(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := g.n.Load(); got != 0 {
		t.Fatalf("expected gauge 0, got %d", got)
	}
}

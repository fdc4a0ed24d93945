// Package tracker counts in-flight backend submissions.
package tracker

import "sync/atomic"

// Tracker counts running submissions using atomics. An optional gauge is
// kept in step with the counter.
type Tracker struct {
	running atomic.Int64
	gauge   Gauge
}

// Gauge is the subset of a metrics gauge the tracker drives.
type Gauge interface {
	Inc()
	Dec()
}

// New returns a Tracker mirroring its count into g. g may be nil.
func New(g Gauge) *Tracker { return &Tracker{gauge: g} }

// Inc increments the running counter.
func (t *Tracker) Inc() {
	t.running.Add(1)
	if t.gauge != nil {
		t.gauge.Inc()
	}
}

// Dec decrements the running counter.
func (t *Tracker) Dec() {
	t.running.Add(-1)
	if t.gauge != nil {
		t.gauge.Dec()
	}
}

// Track increments the counter and returns the matching Dec.
func (t *Tracker) Track() func() {
	t.Inc()
	return t.Dec
}

// Running returns the current running count.
func (t *Tracker) Running() int64 { return t.running.Load() }

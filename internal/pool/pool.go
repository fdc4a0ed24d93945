// Package pool provides a bounded slot semaphore used to cap concurrent
// submissions.
package pool

import "context"

// MaxSize is the largest number of slots a Pool can hold.
const MaxSize = 128

// Pool limits concurrent submissions.
type Pool struct {
	sem chan struct{}
}

// New creates a pool with at least one slot and at most MaxSize slots.
// A step component uses a one-slot pool so that a second Submit while the
// first is in flight is rejected instead of queued.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	if size > MaxSize {
		size = MaxSize
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Acquire reserves one slot, blocking until one is free or ctx is done.
// It returns ctx.Err() if acquisition is aborted due to cancellation.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire reserves a slot only if one is free right now.
func (p *Pool) TryAcquire() bool {
	select {
	case p.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot.
func (p *Pool) Release() {
	<-p.sem
}

// InUse returns the number of held slots.
func (p *Pool) InUse() int { return len(p.sem) }

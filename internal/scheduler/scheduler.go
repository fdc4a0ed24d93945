// Package scheduler runs keyed, cancellable delayed tasks.
//
// At most one task exists per key: scheduling under a key that already has a
// task stops the old one and replaces it. A task that was already dequeued
// by its timer when it got replaced is dropped at fire time, so a replaced
// task never runs.
package scheduler

import (
	"sync"
	"time"

	"github.com/wufi/storefront-checkout/internal/clock"
)

// Token identifies one scheduled task. The zero Token is never issued.
type Token uint64

type task struct {
	token Token
	timer clock.Timer
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	clock clock.Clock

	mu     sync.Mutex
	seq    Token
	tasks  map[string]task
	closed bool
}

// New returns a Scheduler driven by c. A nil clock uses the real clock.
func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	return &Scheduler{
		clock: c,
		tasks: make(map[string]task),
	}
}

// Schedule runs fn after d under key, replacing any task already scheduled
// under that key. fn runs without any scheduler lock held.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}

	s.seq++
	tok := s.seq
	t := s.clock.AfterFunc(d, func() {
		if !s.claim(key, tok) {
			return
		}
		fn()
	})
	s.tasks[key] = task{token: tok, timer: t}
	return tok
}

// claim removes the task under key if it still carries tok.
func (s *Scheduler) claim(key string, tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[key]
	if !ok || cur.token != tok {
		return false
	}
	delete(s.tasks, key)
	return true
}

// Cancel stops the task under key. It reports whether a task was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether a task is scheduled under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Current returns the token of the task under key, or zero.
func (s *Scheduler) Current(key string) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[key].token
}

// Close cancels every task. Later Schedule calls are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.closed = true
}

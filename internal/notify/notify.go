// Package notify keeps the toast messages shown to the shopper after a
// submission succeeds or fails.
package notify

import (
	"strconv"
	"sync"
	"time"

	"github.com/wufi/storefront-checkout/internal/clock"
)

// Level is the severity of a toast.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Toast is one notification.
type Toast struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// DefaultCapacity is the number of toasts a Feed keeps by default.
const DefaultCapacity = 20

// Feed is a bounded, concurrency-safe list of recent toasts. The oldest
// toast is dropped once the feed is full.
type Feed struct {
	clock clock.Clock

	mu    sync.Mutex
	items []Toast
	cap   int
	seq   int
}

// NewFeed returns a feed holding at most capacity toasts.
func NewFeed(capacity int, c clock.Clock) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if c == nil {
		c = clock.Real()
	}
	return &Feed{clock: c, cap: capacity}
}

// Notify appends a toast.
func (f *Feed) Notify(level Level, title, message string) {
	f.Push(level, title, message)
}

// Push appends a toast and returns it.
func (f *Feed) Push(level Level, title, message string) Toast {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	t := Toast{
		ID:      "toast-" + strconv.Itoa(f.seq),
		Level:   level,
		Title:   title,
		Message: message,
		At:      f.clock.Now(),
	}
	if len(f.items) == f.cap {
		copy(f.items, f.items[1:])
		f.items = f.items[:len(f.items)-1]
	}
	f.items = append(f.items, t)
	return t
}

// Recent returns up to n toasts, newest last. n <= 0 returns all.
func (f *Feed) Recent(n int) []Toast {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := f.items
	if n > 0 && n < len(items) {
		items = items[len(items)-n:]
	}
	return append([]Toast(nil), items...)
}

// Dismiss removes the toast with id.
func (f *Feed) Dismiss(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.items {
		if t.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every toast.
func (f *Feed) Clear() {
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
}

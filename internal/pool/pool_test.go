package pool

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var poolSizesTests = []struct {
	in  int
	out int
}{
	{in: -1, out: 1},
	{in: 0, out: 1},
	{in: 1, out: 1},
	{in: 3, out: 3},
	{in: 128, out: 128},
	{in: 129, out: 128},
	{in: 1000, out: 128},
}

func TestNewPoolSize(t *testing.T) {
	t.Parallel()

	for _, tt := range poolSizesTests {
		tt := tt
		t.Run(fmt.Sprintf("size=%d", tt.in), func(t *testing.T) {
			t.Parallel()

			p := New(tt.in)
			if got := cap(p.sem); got != tt.out {
				t.Errorf("New(%d): got %d, want %d", tt.in, got, tt.out)
			}
		})
	}
}

func TestTryAcquireRejectsWhenFull(t *testing.T) {
	t.Parallel()

	p := New(1)
	if !p.TryAcquire() {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if p.TryAcquire() {
		t.Fatal("expected second TryAcquire to fail while the slot is held")
	}
	if got := p.InUse(); got != 1 {
		t.Fatalf("expected 1 slot in use, got %d", got)
	}

	p.Release()
	if !p.TryAcquire() {
		t.Fatal("expected TryAcquire to succeed after release")
	}
	p.Release()
}

// TestPoolAcquireRelease verifies that a blocked acquire unblocks after a release.
func TestPoolAcquireRelease(t *testing.T) {
	t.Parallel()

	p := New(1)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Acquire(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("expected second acquire to block before release")
	case <-time.After(25 * time.Millisecond):
	}

	p.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected second acquire error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected second acquire to succeed after release")
	}
	p.Release()
}

// TestPoolAcquireContextTimeout verifies that acquire returns
// context.DeadlineExceeded when the pool is full and the context expires.
func TestPoolAcquireContextTimeout(t *testing.T) {
	t.Parallel()

	p := New(1)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	defer p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected %v, got %v", context.DeadlineExceeded, err)
	}
}

// Package clock abstracts wall time and suspension so governors and retry
// loops stay deterministic under test.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock supplies now and a cancellable sleep.
type Clock interface {
	Now() time.Time
	// Sleep suspends for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the production clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fake is a manually advanced clock for tests. Sleep returns immediately and
// advances the fake time, recording each requested duration.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	Sleeps []time.Duration
}

// NewFake starts a fake clock at start.
func NewFake(start time.Time) *Fake { return &Fake{now: start} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake time forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
		f.Sleeps = append(f.Sleeps, d)
	}
	f.mu.Unlock()
	return nil
}

// TotalSlept sums every recorded sleep.
func (f *Fake) TotalSlept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total time.Duration
	for _, d := range f.Sleeps {
		total += d
	}
	return total
}

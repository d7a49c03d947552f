package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Budget caps the number of calls dispatched in any rolling window. Callers
// over budget block until a slot frees up; the budget never returns an error
// for being exhausted, only when the context is cancelled while waiting.
//
// Used for the article extraction service, which allows a fixed number of
// requests per minute regardless of how many workers call it.
type Budget struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewBudget creates a budget of limit calls per window.
func NewBudget(limit int, window time.Duration) *Budget {
	return &Budget{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Acquire claims one call slot, blocking until one is available inside the
// rolling window. Returns the context error if cancelled while waiting.
func (b *Budget) Acquire(ctx context.Context) error {
	if b.limit <= 0 || b.window <= 0 {
		return ctx.Err()
	}

	for {
		b.mu.Lock()
		now := b.now()
		b.evict(now)
		if len(b.stamps) < b.limit {
			b.stamps = append(b.stamps, now)
			b.mu.Unlock()
			return nil
		}
		// Oldest stamp leaving the window frees the next slot.
		wait := b.stamps[0].Add(b.window).Sub(now)
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns how many calls currently count against the window.
func (b *Budget) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict(b.now())
	return len(b.stamps)
}

func (b *Budget) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

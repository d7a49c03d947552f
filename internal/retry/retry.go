package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Permanent wraps an error to signal that retrying cannot help.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// Policy controls the exponential backoff schedule. The delay doubles each
// attempt from Base up to Max, with up to 25% random jitter added.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Do runs fn until it succeeds, returns a Permanent error, exhausts
// Attempts, or ctx is cancelled. The last error is returned.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var err error
	delay := p.Base
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		sleep := delay
		if sleep > 0 {
			sleep += time.Duration(rand.Int63n(int64(sleep)/4 + 1))
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return err
}

package apperr

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is exponential backoff with jitter for Transient errors (§7).
// None of the pack's example repos import a dedicated backoff library (the
// closest, github.com/jpillora/backoff, is only an indirect dependency of
// one example pulled in by an unrelated AWS SDK chain) — see DESIGN.md for
// why this one ambient concern is built on the standard library rather than
// adopting an unrelated indirect dependency for a single helper.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 250 * time.Millisecond, Max: 30 * time.Second, MaxRetries: 5}
}

// Retry calls fn until it succeeds, fn returns a non-retryable error, ctx is
// cancelled, or MaxRetries retries are exhausted (MaxRetries+1 calls in all).
func (b Backoff) Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == b.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.NextDelay(attempt)):
		}
	}
	return err
}

// NextDelay returns the jittered exponential delay for the given zero-based
// attempt number, capped at Max. Exported so callers that need an unbounded
// retry loop (wsfeed's reconnect, which must keep trying past MaxRetries
// until ctx is cancelled) can reuse the same jitter curve as Retry instead
// of hand-rolling their own doubling.
func (b Backoff) NextDelay(attempt int) time.Duration {
	d := b.Base << attempt
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

// Package retry provides the exponential-backoff-with-jitter helper
// shared by the broker client, the embedding/reranker/converter HTTP
// clients and the crawler's transient-error handling (spec.md §5, §7).
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultBrokerPolicy matches spec.md §4.1: transport errors retried
// with exponential backoff, at least 3 attempts.
func DefaultBrokerPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// DefaultServicePolicy matches spec.md §5: external embedding/rerank
// calls retry 3 times with 1-10s exponential backoff.
func DefaultServicePolicy() Policy {
	return Policy{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: 10 * time.Second}
}

// ErrPermanent wraps an error to signal that no further retries should
// be attempted, regardless of remaining attempts.
type ErrPermanent struct{ Err error }

func (e *ErrPermanent) Error() string { return e.Err.Error() }
func (e *ErrPermanent) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ErrPermanent{Err: err}
}

// Do runs fn up to p.MaxAttempts times, sleeping with exponential
// backoff and jitter between attempts. It stops early if fn returns a
// permanent error or ctx is cancelled.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *ErrPermanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == p.MaxAttempts {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
		wait := delay + jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}

package remote

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	// defaultMaxAttempts bounds how often a Firestore read is retried.
	// Transient gRPC failures (Unavailable, DeadlineExceeded) usually clear
	// within a try or two; anything still failing after three is treated as
	// offline and left to the next sync pass.
	defaultMaxAttempts = 3

	// baseDelay is the first-attempt backoff, before jitter.
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff so a retried fetch never stalls a sync pass
	// for more than a few seconds.
	maxDelay = 5 * time.Second
)

// Retry executes fn up to maxAttempts times with exponential backoff and
// jitter, returning nil on the first success or a wrapped error carrying the
// last failure. Only read paths go through Retry: mutations are replayed from
// the sync queue, which tracks its own retry count per entry.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < maxAttempts-1 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// backoffDelay grows the delay exponentially per attempt and spreads it
// uniformly over [delay/2, delay), so parallel fetches recovering from the
// same outage don't hammer the backend in lockstep.
func backoffDelay(attempt int) time.Duration {
	delay := baseDelay * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}

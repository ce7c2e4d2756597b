package exchange

import (
	"context"
	"time"

	"github.com/ducminhle1904/fleet-bot/internal/errors"
)

// withRetry runs fn up to attempts times with doubling backoff starting at
// base (waits of 1s then 2s between the default 3 attempts), stopping early
// on a non-retryable error.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var lastErr error
	delay := base
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

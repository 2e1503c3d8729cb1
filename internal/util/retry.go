package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return RetryNotify(ctx, maxAttempts, baseDelay, fn, nil)
}

// RetryNotify is Retry with a callback invoked after each failed attempt
// that will be retried, receiving the 1-based attempt number, its error and
// the delay before the next attempt.
func RetryNotify(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error, notify func(attempt int, err error, next time.Duration)) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			if notify != nil {
				notify(attempt+1, err, delay)
			}
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			delay *= 2
		}
	}

	return err
}

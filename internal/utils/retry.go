// internal/utils/retry.go
package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy retries an operation with exponential backoff while Retryable
// accepts the error. Only use it around idempotent operations.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	Retryable func(error) bool
}

func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("cancelled after %d attempts: %w", attempt, lastErr)
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

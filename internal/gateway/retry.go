package gateway

import (
	"context"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second
)

// Retry runs op with exponential backoff, doubling the delay after each
// failed attempt and returning the final error once attempts are exhausted.
// Only wrap calls that are idempotent or deduplicated by the ledger.
func Retry[T any](ctx context.Context, attempts int, baseDelay time.Duration, op func(context.Context) (T, error)) (T, error) {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultRetryDelay
	}

	var (
		zero T
		err  error
	)
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		var value T
		value, err = op(ctx)
		if err == nil {
			return value, nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return zero, err
}

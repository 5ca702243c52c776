package pipeline

import (
	"context"
	"errors"
	"time"
)

// withRetry runs fn up to attempts times, sleeping a growing delay
// between tries. Every retried operation in this package is idempotent:
// embedding a batch again is harmless and a chunk replace always starts
// by deleting what a previous try wrote.
func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * delay):
		}
	}
	return err
}

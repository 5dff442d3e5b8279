package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures a bounded, context-aware retry loop.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultRetryConfig matches the dispatcher's contract: one retry after a
// fixed 0.5s backoff, never an exponential storm against a worker that is
// already struggling.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 2, InitialDelay: 500 * time.Millisecond}
}

// Retry runs fn up to config.MaxAttempts times, sleeping config.InitialDelay
// between attempts, and stops early if ctx is canceled.
func Retry(ctx context.Context, config *RetryConfig, fn func(attempt int) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(attempt); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			break
		}

		timer := time.NewTimer(config.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}

// Package retry provides bounded retry with exponential backoff for
// transient database failures.
package retry

import (
	"context"
	"time"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/logging"
)

// Config configures retry behavior.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig returns the retry policy for lock contention.
// Pattern: 50ms, 100ms, 200ms, capped at 1s.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  4,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}
}

// Do runs fn, retrying while the error is retryable per
// apperrors.IsRetryable. The caller must ensure fn is safe to repeat;
// ledger writes are, because they are idempotent by key.
func Do(ctx context.Context, config *Config, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultConfig()
	}
	logger := logging.FromContext(ctx)

	delay := config.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("operation succeeded after retry")
			}
			return nil
		}

		if !apperrors.IsRetryable(lastErr) || attempt >= config.MaxAttempts {
			return lastErr
		}

		logger.WithError(lastErr).WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("retrying after transient failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return lastErr
}

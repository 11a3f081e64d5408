package lib

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/medofficehq/chargerules/internal/models"
)

// RetryPolicy holds retry strategy parameters.
type RetryPolicy struct {
	MaxAttempts      int
	InitialBackoffMs int64
	MaxBackoffMs     int64
}

// NewRetryPolicyFromConfig creates a RetryPolicy from the configured values.
func NewRetryPolicyFromConfig(config models.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      config.MaxAttempts,
		InitialBackoffMs: config.InitialBackoffMs,
		MaxBackoffMs:     config.MaxBackoffMs,
	}
}

// Backoff computes the exponential backoff duration for one attempt.
// Formula: min(initialBackoff * 2^attempt, maxBackoff)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoffMs := float64(p.InitialBackoffMs) * math.Pow(2, float64(attempt))

	if backoffMs > float64(p.MaxBackoffMs) {
		backoffMs = float64(p.MaxBackoffMs)
	}

	return time.Duration(backoffMs) * time.Millisecond
}

// RetryableOperation represents an operation that can be retried.
type RetryableOperation func() error

// Do executes an operation with exponential backoff retry logic. Retries
// stop on success, on a non-retryable error, when attempts are exhausted,
// or when the context is cancelled during a backoff wait.
func (p RetryPolicy) Do(ctx context.Context, operation RetryableOperation, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Last attempt - don't wait
		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(p.Backoff(attempt)):
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// Package retry retries operations that fail with transient errors, such as
// DuckDB write-write conflicts when concurrent runs record their history.
//
//	err := retry.Do(ctx, cfg, func() error {
//	    return store.saveTx(ctx, run)
//	}, duckdb.IsTransactionConflict)
//
// The wait before attempt n (n >= 2) is InitialBackoff * 2^(n-2), capped at
// MaxBackoff, plus a jitter that grows with the attempt number. Cancelling
// ctx stops the loop during a wait.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/coral-mesh/cycletrack/internal/constants"
)

// Config defines the retry behaviour.
type Config struct {
	// MaxRetries is the maximum number of calls to fn. Values below 1 are
	// treated as 1.
	MaxRetries int

	// InitialBackoff is the wait before the second call.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter in [0, 1] adds up to Jitter*backoff to a wait, scaled by
	// attempt/MaxRetries.
	Jitter float64
}

// DefaultConfig returns the settings used for run history writes.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     constants.DefaultStoreRetries,
		InitialBackoff: constants.DefaultStoreInitialBackoff,
		MaxBackoff:     constants.DefaultStoreMaxBackoff,
		Jitter:         0.1,
	}
}

// ShouldRetryFunc reports whether err is transient. A nil ShouldRetryFunc
// retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxRetries calls have been made. Non-retryable errors are returned as is;
// exhaustion wraps the last error.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	attempts := max(cfg.MaxRetries, 1)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			timer := time.NewTimer(Backoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Backoff returns the wait before retry number attempt (1-based).
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 && cfg.MaxRetries > 0 {
		backoff += time.Duration(float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}
	return backoff
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("TransactionContext Error: Conflict on update")

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond}
}

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errConflict) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return errConflict
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errConflict)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	permanent := errors.New("constraint violated")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, errConflict) })

	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroRetriesStillCallsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, func() error {
		calls++
		return errConflict
	}, nil)

	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Hour}

	calls := 0
	err := Do(ctx, cfg, func() error {
		calls++
		cancel()
		return errConflict
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 4, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	assert.Equal(t, time.Duration(0), Backoff(cfg, 0))
	assert.Equal(t, 100*time.Millisecond, Backoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(cfg, 2))
	assert.Equal(t, 300*time.Millisecond, Backoff(cfg, 3), "capped")

	cfg.Jitter = 0.5
	// 200ms + 200ms*0.5*2/4
	assert.Equal(t, 250*time.Millisecond, Backoff(cfg, 2))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Positive(t, cfg.MaxRetries)
	assert.Positive(t, cfg.InitialBackoff)
	assert.GreaterOrEqual(t, cfg.MaxBackoff, cfg.InitialBackoff)
}

package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastConfig(3), func() error {
			calls++
			if calls < 3 {
				return errors.New("temporary")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("wraps last error when attempts run out", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := Retry(context.Background(), fastConfig(2), func() error {
			calls++
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "max retries exceeded")
		assert.Equal(t, 2, calls)
	})

	t.Run("single attempt returns error as is", func(t *testing.T) {
		boom := errors.New("boom")
		err := Retry(context.Background(), fastConfig(1), func() error { return boom })

		assert.Equal(t, boom, err)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		boom := errors.New("bad request")
		calls := 0
		err := Retry(context.Background(), fastConfig(5), func() error {
			calls++
			return Permanent(boom)
		})

		assert.Equal(t, boom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("predicate rejects error", func(t *testing.T) {
		cfg := fastConfig(5)
		cfg.Retryable = func(err error) bool { return err.Error() == "retry me" }
		calls := 0
		err := Retry(context.Background(), cfg, func() error {
			calls++
			if calls == 1 {
				return errors.New("retry me")
			}
			return errors.New("fatal")
		})

		assert.EqualError(t, err, "fatal")
		assert.Equal(t, 2, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cfg := fastConfig(3)
		cfg.InitialDelay = time.Second

		err := Retry(ctx, cfg, func() error { return errors.New("down") })

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	v, err := RetryWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(1, cfg))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(2, cfg))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(3, cfg))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

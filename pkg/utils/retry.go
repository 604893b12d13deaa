// Package utils provides small shared helpers: retry with exponential
// backoff, request id propagation through contexts, JSON response writers
// for the dashboard and page parameters for list endpoints.
package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryFunc is a function that can be retried. It should return an error
// if the operation failed and nil on success.
type RetryFunc func() error

// RetryConfig holds configuration for retry behavior with exponential backoff.
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts (including first try)
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound for any single delay
	Multiplier   float64       // Exponential backoff multiplier
	Jitter       bool          // Add +/-25% random jitter to delays

	// Retryable decides whether err is worth another attempt. nil retries
	// every error except those wrapped with Permanent.
	Retryable func(err error) bool
}

// DefaultRetryConfig returns a general-purpose configuration.
//
// Configuration:
//   - Max attempts: 3
//   - Initial delay: 100ms
//   - Max delay: 5s
//   - Multiplier: 2.0 (exponential backoff)
//   - Jitter: enabled
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// StoreRetryConfig returns a configuration for connecting to a token store
// backend, which may still be starting up.
//
// Configuration:
//   - Max attempts: 5
//   - Initial delay: 100ms
//   - Max delay: 3s
func StoreRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// APIRetryConfig returns a configuration for idempotent calls to the
// meal-logging API.
//
// Parameters:
//   - attempts: total attempts, values below 1 are treated as 1
func APIRetryConfig(attempts int) RetryConfig {
	if attempts < 1 {
		attempts = 1
	}
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry executes fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
//
// A non-retryable error is returned as is (unwrapped from Permanent) so
// callers can inspect it with errors.As. Exhausted attempts wrap the last
// error.
//
// Example:
//
//	err := utils.Retry(ctx, utils.StoreRetryConfig(), func() error {
//	    return client.Ping(ctx).Err()
//	})
func Retry(ctx context.Context, config RetryConfig, fn RetryFunc) error {
	_, err := RetryWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that return a value.
//
// Example:
//
//	profile, err := utils.RetryWithResult(ctx, cfg, func() (*models.UserProfile, error) {
//	    return client.fetchProfile(ctx, token)
//	})
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Int("max_attempts", attempts).
					Msg("Operation succeeded after retry")
			}
			return res, nil
		}

		lastErr = err

		if !isRetryable(err, config.Retryable) {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Msg("Error is not retryable, aborting")
			var p *permanentError
			if errors.As(err, &p) {
				return zero, p.err
			}
			return zero, err
		}

		if attempt >= attempts {
			if attempts > 1 {
				log.Warn().
					Err(err).
					Int("attempts", attempt).
					Msg("Max retry attempts reached")
			}
			break
		}

		delay := calculateDelay(attempt, config)

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("delay", delay).
			Msg("Operation failed, retrying after delay")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if attempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("max retries exceeded (%d attempts): %w", attempts, lastErr)
}

// calculateDelay returns InitialDelay * Multiplier^(attempt-1), capped at
// MaxDelay, with optional jitter.
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.25
		jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
		delay += jitter
	}

	return time.Duration(delay)
}

func isRetryable(err error, retryable func(error) bool) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if retryable == nil {
		return true
	}
	return retryable(err)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns the inner error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

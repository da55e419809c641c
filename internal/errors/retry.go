package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig shapes the backoff loop in Retry and RetryWithResult.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the initial call.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier grows the delay after every failed attempt.
	Multiplier float64

	// Jitter randomizes each delay into [delay/2, delay] so parallel
	// workers do not hit a recovering backend in lockstep.
	Jitter bool

	// RetryIf decides whether an error is worth another attempt.
	// A nil RetryIf retries everything.
	RetryIf func(error) bool
}

// DefaultRetryConfig retries three times over roughly seven seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// RemoteRetryConfig is the loop used for embedding and model backends.
// Only retryable errors (connection, timeout, rate limit) are attempted
// again; auth and validation failures surface immediately.
func RemoteRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryIf:      IsRetryable,
	}
}

// backoff returns the wait before retry number n, counted from zero.
func (cfg RetryConfig) backoff(n int) time.Duration {
	d := float64(cfg.InitialDelay)
	for i := 0; i < n; i++ {
		d *= cfg.Multiplier
		if d >= float64(cfg.MaxDelay) {
			d = float64(cfg.MaxDelay)
			break
		}
	}
	if cfg.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}

// Retry runs fn with exponential backoff until it succeeds, exhausts
// MaxRetries, is rejected by RetryIf, or the context ends.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that also produce a value. On
// exhaustion the zero value comes back with the last error, wrapped so
// errors.Is still matches it. An error RetryIf rejects is returned
// untouched.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T

	for try := 0; ; try++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return result, err
		}
		if try == cfg.MaxRetries {
			return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.backoff(try)):
		}
	}
}

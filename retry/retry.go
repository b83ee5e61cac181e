// Package retry provides a generic exponential-backoff wrapper for fallible
// operations.
//
// The policy is pure: callers that have retries disabled are expected to call
// the operation directly rather than pass a disabled Config through Do. This
// keeps retry-on/off a caller-level branch and the package testable with a
// fixed attempt count.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Config describes the backoff schedule for one class of operations.
// It is a pure value with no identity.
type Config struct {
	Enabled         bool    `json:"enabled"`
	MaxRetries      int     `json:"max_retries"`      // additional attempts after the first
	InitialDelay    float64 `json:"initial_delay"`    // seconds
	MaxDelay        float64 `json:"max_delay"`        // seconds
	ExponentialBase float64 `json:"exponential_base"` // backoff factor
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxRetries:      3,
		InitialDelay:    1.0,
		MaxDelay:        60.0,
		ExponentialBase: 2.0,
	}
}

// Delay returns the sleep before retry k (1-indexed):
// min(InitialDelay * ExponentialBase^(k-1), MaxDelay).
func (c Config) Delay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	delay := math.Min(c.InitialDelay*math.Pow(c.ExponentialBase, float64(k-1)), c.MaxDelay)
	return time.Duration(delay * float64(time.Second))
}

// ExhaustedError is returned when every attempt has failed. It carries the
// total attempt count and wraps the last underlying error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// OnRetry is invoked after each non-final failure, before sleeping.
// attempt is the 1-indexed number of the attempt that just failed.
type OnRetry func(err error, attempt int)

// retryable is the optional interface errors implement to opt out of retries.
// Errors that do not implement it are considered retryable.
type retryable interface {
	Retryable() bool
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// Do runs op once plus up to cfg.MaxRetries additional times. Timeouts,
// cancellations, and errors reporting Retryable() == false stop the loop
// immediately. When every attempt fails, Do returns an *ExhaustedError.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error), onRetry OnRetry) (T, error) {
	var zero T

	result, err := op(ctx)
	if err == nil {
		return result, nil
	}

	for k := 1; k <= cfg.MaxRetries; k++ {
		if !shouldRetry(err) {
			return zero, err
		}
		if onRetry != nil {
			onRetry(err, k)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Delay(k)):
		}

		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxRetries + 1, Last: err}
}

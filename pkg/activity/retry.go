package activity

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"renderflow/pkg/core"
)

// RetryPolicy holds configuration for retry with backoff.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// MaxDuration bounds the total time spent across attempts and
	// backoffs. Zero means unbounded.
	MaxDuration time.Duration

	// BackoffMultiplier is applied to the backoff after each attempt.
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	JitterFraction float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		MaxDuration:       2 * time.Minute,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// retryable reports whether the error is worth another attempt. Only
// transient failures and heartbeat timeouts are retried; validation
// errors and cancellations surface immediately.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrHeartbeatTimeout) {
		return true
	}
	return core.IsTransient(err)
}

// retryWithBackoff executes the operation with exponential backoff on
// retryable failures. It respects context cancellation and the policy's
// total duration cap, returning the last error when attempts run out.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, operation func() error) error {
	var lastErr error
	backoff := policy.InitialBackoff
	start := time.Now()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt >= policy.MaxAttempts {
			break
		}
		if policy.MaxDuration > 0 && time.Since(start)+backoff > policy.MaxDuration {
			break
		}

		jitter := time.Duration(float64(backoff) * policy.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * policy.BackoffMultiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return lastErr
}

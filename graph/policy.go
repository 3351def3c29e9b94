package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy is returned when a RetryPolicy is malformed.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrMaxAttemptsExceeded wraps the last error once a retry budget is spent.
var ErrMaxAttemptsExceeded = errors.New("maximum retry attempts exceeded")

// RetryPolicy defines bounded retries for calls made inside a node.
//
// The engine never retries nodes itself. Node implementations that call
// external services use Retry with a policy and fall back to a degraded
// result once the budget is spent.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Must be >= BaseDelay when both are set.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth another attempt.
	// If nil, every error is retried.
	Retryable func(error) bool

	// OnRetry is called before each retry with the attempt number that failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy is the two-attempt budget used by pipeline nodes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Validate checks the policy.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// Retry calls fn until it succeeds, the error is not retryable, the attempts
// are exhausted or ctx ends. fn receives the 1-based attempt number.
//
// Example:
//
//	err := graph.Retry(ctx, graph.DefaultRetryPolicy(), func(ctx context.Context, attempt int) error {
//	    out, err = chat.Chat(ctx, messages, model.Options{})
//	    return err
//	})
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, lastErr)
		}

		if policy.BaseDelay > 0 {
			maxDelay := policy.MaxDelay
			if maxDelay == 0 {
				maxDelay = policy.BaseDelay * 8
			}
			timer := time.NewTimer(computeBackoff(attempt-1, policy.BaseDelay, maxDelay, nil))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, policy.MaxAttempts, lastErr)
}

// computeBackoff returns base*2^attempt capped at maxDelay, plus jitter in [0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	exponentialDelay := base * (1 << attempt)
	if exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return exponentialDelay + jitter
}

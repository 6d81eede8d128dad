package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/stepflow/pkg/api"
)

// transientError marks an error as retryable regardless of its message.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so the Retrier treats it as retryable.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err looks like a transient storage failure:
// a serialization conflict, deadlock, lock contention, or a dropped
// connection. Anything else is treated as fatal and returned immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"40001", // serialization_failure
		"40p01", // deadlock_detected
		"serialization",
		"deadlock",
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"busy",
		"connection reset",
		"connection refused",
		"broken pipe",
		"i/o timeout",
		"pool timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retrier re-runs storage operations that fail transiently, with exponential
// backoff between attempts. A fatal error aborts immediately; exhausting all
// attempts returns the last error wrapped with attempt context.
type Retrier struct {
	policy api.RetryPolicy
}

// NewRetrier returns a Retrier for the given policy. Zero fields get
// defaults: 3 attempts, 10ms initial backoff, doubling per attempt.
func NewRetrier(policy api.RetryPolicy) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 10 * time.Millisecond
	}
	if policy.BackoffMultiplier <= 0 {
		policy.BackoffMultiplier = 2.0
	}
	return &Retrier{policy: policy}
}

// Run executes op, retrying on transient failures up to the policy's
// MaxAttempts. The backoff before attempt n is InitialBackoff scaled by
// BackoffMultiplier^(n-1), capped at MaxBackoff when set.
func (r *Retrier) Run(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := r.policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := backoff
		if r.policy.MaxBackoff > 0 && delay > r.policy.MaxBackoff {
			delay = r.policy.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		next := time.Duration(float64(backoff) * r.policy.BackoffMultiplier)
		if r.policy.MaxBackoff > 0 && next > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		} else {
			backoff = next
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

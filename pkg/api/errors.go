package api

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError rejects a malformed submission before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// IsValidationError returns the typed error if err is a ValidationError.
func IsValidationError(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// OutOfSyncError signals that the submitted token does not match the
// session's live instance. It is recoverable: the client resyncs using
// CorrectInstance and retries. It carries everything the caller needs so
// no state has to be re-derived.
type OutOfSyncError struct {
	Expected        StepID
	Received        StepID
	CorrectInstance StepInstance
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("out of sync: expected step %q, received %q", e.Expected, e.Received)
}

// IsOutOfSync returns the typed error if err indicates a stale token.
func IsOutOfSync(err error) (*OutOfSyncError, bool) {
	var o *OutOfSyncError
	if errors.As(err, &o) {
		return o, true
	}
	return nil, false
}

// LockTimeoutError is returned when the per-session lock could not be
// acquired within the configured maximum wait.
type LockTimeoutError struct {
	Key    string
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock on %q not acquired within %v", e.Key, e.Waited)
}

// IsLockTimeout reports whether err is a LockTimeoutError.
func IsLockTimeout(err error) bool {
	var l *LockTimeoutError
	return errors.As(err, &l)
}

// RequestTimeoutError is returned when a handler invocation exceeded its
// time budget. The deduplicator clears its bookkeeping before returning
// this, so a later attempt starts clean.
type RequestTimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %q exceeded its %v budget", e.Key, e.Timeout)
}

// IsRequestTimeout reports whether err is a RequestTimeoutError.
func IsRequestTimeout(err error) bool {
	var r *RequestTimeoutError
	return errors.As(err, &r)
}

// RateLimitError tells the caller to back off.
type RateLimitError struct {
	Identity string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q", e.Identity)
}

// IsRateLimit reports whether err is a RateLimitError.
func IsRateLimit(err error) bool {
	var r *RateLimitError
	return errors.As(err, &r)
}

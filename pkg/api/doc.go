// Package api defines the public types of the stepflow onboarding engine:
// the session and step-instance model, the Service interface, the typed
// error taxonomy, and the Observer used for audit logging and metrics.
//
// # Sessions and transition tokens
//
// A Session is the server-owned record of where a user is in the onboarding
// catalog. Alongside the current step it carries exactly one live
// StepInstance: a single-use token (instance ID + one-time nonce) proving
// that a submission corresponds to the step presentation the server most
// recently issued. A successful submission consumes the token and mints a
// new one for the resulting step; a stale token is rejected with
// OutOfSyncError, which carries the authoritative live instance so the
// client can resynchronize in one round trip.
//
// # Errors
//
// Expected conditions are typed and recoverable:
//
//   - ValidationError: malformed submission, nothing touched
//   - OutOfSyncError: stale token, recover via Resync
//   - LockTimeoutError: per-session lock contention exceeded the wait budget
//   - RequestTimeoutError: handler exceeded its time budget
//   - RateLimitError: caller must back off
//
// Anything else is a real failure and propagates as-is.
//
// # Observers
//
// The Observer interface receives step_advanced, out_of_sync, resync, and
// error events. Observers run after state has settled and must never block
// a transition; LoggingObserver (log/slog) and BasicMetrics are provided,
// and CompositeObserver fans out to several at once.
package api

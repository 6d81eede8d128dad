package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/stepflow/pkg/api"
)

// ErrSessionNotFound is returned when no session exists for a user.
// "Absent, create one" is an expected condition, not a failure: callers
// check for this sentinel explicitly instead of treating lookup misses as
// exceptional.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore handles storage of onboarding sessions and the append-only
// log of step answers.
//
// Implementations must be safe for concurrent use. The step engine
// serializes writes per session with its own lock; stores only need to keep
// individual operations atomic.
type SessionStore interface {
	// GetSession returns the session for a user, or ErrSessionNotFound.
	GetSession(ctx context.Context, userID string) (*api.Session, error)

	// SaveSession creates a new session. Saving over an existing user is an
	// error.
	SaveSession(ctx context.Context, sess *api.Session) error

	// UpdateSession replaces an existing session's state atomically.
	// Returns ErrSessionNotFound if the session does not exist.
	UpdateSession(ctx context.Context, sess *api.Session) error

	// AppendAnswer records one step answer. The answer log is append-only:
	// resubmissions of a step add entries, they never rewrite old ones.
	AppendAnswer(ctx context.Context, userID string, step api.StepID, payload any) error

	// CommitTransition persists one accepted step transition: the session's
	// new state plus the answer that produced it, as a single unit. A failed
	// commit must leave neither write behind, so retrying it cannot
	// duplicate answer rows. Returns ErrSessionNotFound if the session does
	// not exist.
	CommitTransition(ctx context.Context, sess *api.Session, from api.StepID, payload any) error
}

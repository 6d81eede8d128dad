package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/stepflow/internal/coord"
	"github.com/petrijr/stepflow/internal/persistence"
	"github.com/petrijr/stepflow/pkg/api"
	"github.com/petrijr/stepflow/pkg/catalog"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can keep a session
	// locked before the lease lapses.
	DefaultLockTTL = 10 * time.Second

	// DefaultLockWait bounds how long a submission waits for the
	// per-session lock before giving up with a lock timeout.
	DefaultLockWait = 5 * time.Second
)

// Config assembles a StepEngine. Zero-value fields fall back to in-memory
// defaults, so Config{} yields a fully working single-process engine.
type Config struct {
	Table    *catalog.Table
	Sessions persistence.SessionStore
	Locks    coord.LockStore
	Dedup    *coord.Deduplicator
	Limiter  coord.RateLimiter
	Retry    api.RetryPolicy
	Observer api.Observer
	LockTTL  time.Duration
	LockWait time.Duration
}

// StepEngine drives onboarding sessions through the step catalog. It is the
// single writer for session state: every mutation happens under the
// per-session lock, behind the deduplicator, inside the retrier.
type StepEngine struct {
	table    *catalog.Table
	sessions persistence.SessionStore
	locks    coord.LockStore
	dedup    *coord.Deduplicator
	limiter  coord.RateLimiter
	retrier  *persistence.Retrier
	observer api.Observer
	lockTTL  time.Duration
	lockWait time.Duration
}

var _ api.Service = (*StepEngine)(nil)

// New creates a StepEngine from cfg, filling in in-memory defaults for any
// collaborator left nil.
func New(cfg Config) *StepEngine {
	if cfg.Table == nil {
		cfg.Table = catalog.Default()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = persistence.NewInMemorySessionStore()
	}
	if cfg.Locks == nil {
		cfg.Locks = coord.NewInMemoryLockStore()
	}
	if cfg.Dedup == nil {
		cfg.Dedup = coord.NewDeduplicator(coord.NewInMemoryResultCache(),
			coord.DefaultCacheTTL, coord.DefaultHandlerTimeout)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = coord.NewWindowLimiter(coord.DefaultRateLimit, coord.DefaultRateWindow)
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}

	return &StepEngine{
		table:    cfg.Table,
		sessions: cfg.Sessions,
		locks:    cfg.Locks,
		dedup:    cfg.Dedup,
		limiter:  cfg.Limiter,
		retrier:  persistence.NewRetrier(cfg.Retry),
		observer: cfg.Observer,
		lockTTL:  cfg.LockTTL,
		lockWait: cfg.LockWait,
	}
}

// Table returns the step catalog the engine runs on.
func (e *StepEngine) Table() *catalog.Table {
	return e.table
}

func (e *StepEngine) Submit(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error) {
	if err := validateSubmit(e.table, req); err != nil {
		return nil, err
	}

	allowed, err := e.limiter.Allow(ctx, req.UserID)
	if err != nil {
		// A broken limiter store must not take down submissions; log and
		// let the request through.
		e.observer.OnError(ctx, req.UserID, fmt.Errorf("rate limiter: %w", err))
	} else if !allowed {
		return nil, &api.RateLimitError{Identity: req.UserID}
	}

	key := dedupKey(req)
	value, err := e.dedup.Execute(ctx, key, req.Nonce, func(ctx context.Context) (any, error) {
		return e.submitLocked(ctx, req)
	})
	if err != nil {
		if !isClientFault(err) {
			e.observer.OnError(ctx, req.UserID, err)
		}
		return nil, err
	}

	res, ok := value.(*api.SubmitResult)
	if !ok {
		return nil, fmt.Errorf("unexpected dedup cache value of type %T", value)
	}
	return res, nil
}

// submitLocked runs the actual transition under the per-session lock.
func (e *StepEngine) submitLocked(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error) {
	var res *api.SubmitResult

	holder := uuid.NewString()
	err := coord.WithLock(ctx, e.locks, sessionLockKey(req.UserID), holder, e.lockTTL, e.lockWait,
		func(ctx context.Context) error {
			var err error
			res, err = e.applySubmit(ctx, req)
			return err
		})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *StepEngine) applySubmit(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error) {
	start := time.Now()

	sess, err := e.loadOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if err := ValidateInstance(sess, req.Submitted()); err != nil {
		e.observer.OnOutOfSync(ctx, sess, req.Submitted())
		return nil, err
	}

	from := sess.CurrentStep
	next, ok := e.table.Next(from, req.Payload)
	if !ok {
		// Terminal step: resubmitting is an absorbing no-op.
		return e.submitResult(sess), nil
	}

	updated := sess.Clone()
	if next != from {
		if !updated.HasCompleted(from) {
			updated.CompletedSteps = append(updated.CompletedSteps, from)
		}
	}
	if req.Payload != nil {
		if updated.StepPayloads == nil {
			updated.StepPayloads = make(map[api.StepID]any)
		}
		updated.StepPayloads[from] = req.Payload
	}
	updated.CurrentStep = next
	updated.CurrentInstance = MintInstance(next)
	updated.LastUpdated = time.Now().UTC()

	// The session update and the answer append commit as one store-level
	// unit: a transient failure retries the whole commit without leaving a
	// duplicate answer row behind.
	err = e.retrier.Run(ctx, func(ctx context.Context) error {
		return e.sessions.CommitTransition(ctx, updated, from, req.Payload)
	})
	if err != nil {
		return nil, err
	}

	e.observer.OnStepAdvanced(ctx, updated, from, next, time.Since(start))
	return e.submitResult(updated), nil
}

func (e *StepEngine) Resync(ctx context.Context, userID string) (*api.ResyncResult, error) {
	if userID == "" {
		return nil, &api.ValidationError{Field: "userId", Reason: "must not be empty"}
	}

	sess, err := e.loadOrCreate(ctx, userID)
	if err != nil {
		e.observer.OnError(ctx, userID, err)
		return nil, err
	}

	e.observer.OnResync(ctx, sess)

	return &api.ResyncResult{
		CurrentStep:    sess.CurrentStep,
		StepInstance:   sess.CurrentInstance,
		Progress:       e.table.Progress(sess.CurrentStep),
		CompletedSteps: append([]api.StepID(nil), sess.CompletedSteps...),
		SessionID:      sess.SessionID,
		ResyncedAt:     time.Now().UTC(),
	}, nil
}

// loadOrCreate fetches the user's session, creating it at the catalog's
// first step on first contact. Two concurrent first contacts race on
// SaveSession; the loser re-reads the winner's session.
func (e *StepEngine) loadOrCreate(ctx context.Context, userID string) (*api.Session, error) {
	sess, err := e.sessions.GetSession(ctx, userID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, persistence.ErrSessionNotFound) {
		return nil, err
	}

	first := e.table.First()
	fresh := &api.Session{
		UserID:          userID,
		SessionID:       uuid.NewString(),
		CurrentStep:     first,
		CurrentInstance: MintInstance(first),
		CompletedSteps:  []api.StepID{},
		LastUpdated:     time.Now().UTC(),
	}

	saveErr := e.retrier.Run(ctx, func(ctx context.Context) error {
		return e.sessions.SaveSession(ctx, fresh)
	})
	if saveErr == nil {
		return fresh, nil
	}

	// Lost the create race: the session exists now, so use it.
	if sess, err := e.sessions.GetSession(ctx, userID); err == nil {
		return sess, nil
	}
	return nil, saveErr
}

func (e *StepEngine) submitResult(sess *api.Session) *api.SubmitResult {
	return &api.SubmitResult{
		Success:        true,
		CurrentStep:    sess.CurrentStep,
		StepInstance:   sess.CurrentInstance,
		Descriptor:     e.table.Descriptor(sess.CurrentStep),
		Progress:       e.table.Progress(sess.CurrentStep),
		CompletedSteps: append([]api.StepID(nil), sess.CompletedSteps...),
	}
}

func validateSubmit(table *catalog.Table, req api.SubmitRequest) error {
	switch {
	case req.UserID == "":
		return &api.ValidationError{Field: "userId", Reason: "must not be empty"}
	case req.StepID == "":
		return &api.ValidationError{Field: "stepId", Reason: "must not be empty"}
	case !table.Contains(req.StepID):
		return &api.ValidationError{Field: "stepId", Reason: fmt.Sprintf("unknown step %q", req.StepID)}
	case req.InstanceID == "":
		return &api.ValidationError{Field: "instanceId", Reason: "must not be empty"}
	case req.Nonce == "":
		return &api.ValidationError{Field: "nonce", Reason: "must not be empty"}
	}
	return nil
}

// dedupKey identifies one logical submission attempt. Any change to the
// token triple produces a distinct key, so only byte-identical retries
// coalesce.
func dedupKey(req api.SubmitRequest) string {
	return strings.Join([]string{req.UserID, string(req.StepID), req.InstanceID, req.Nonce}, "|")
}

func sessionLockKey(userID string) string {
	return "sess:" + userID
}

// isClientFault reports whether err is the caller's problem rather than an
// engine failure, so it should not be logged as an error.
func isClientFault(err error) bool {
	if _, ok := api.IsOutOfSync(err); ok {
		return true
	}
	if _, ok := api.IsValidationError(err); ok {
		return true
	}
	return api.IsRateLimit(err)
}

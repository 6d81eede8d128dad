package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives audit callbacks from the step engine.
//
// Implementations should be fast and non-blocking; the engine invokes them
// after state has settled, and a failing or slow observer must never block
// a state transition. Heavy work should be done asynchronously.
type Observer interface {
	// OnStepAdvanced is called once per accepted submission, after the new
	// session state has been persisted.
	OnStepAdvanced(ctx context.Context, sess *Session, from, to StepID, duration time.Duration)

	// OnOutOfSync is called when a submission presented a stale token.
	// The session is unchanged by the rejected attempt.
	OnOutOfSync(ctx context.Context, sess *Session, received SubmittedInstance)

	// OnResync is called when a client fetched the authoritative snapshot.
	OnResync(ctx context.Context, sess *Session)

	// OnError is called for failures that surface to the caller: lock and
	// request timeouts, exhausted retries, fatal storage errors.
	OnError(ctx context.Context, userID string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnStepAdvanced(ctx context.Context, sess *Session, from, to StepID, d time.Duration) {
}
func (NoopObserver) OnOutOfSync(ctx context.Context, sess *Session, received SubmittedInstance) {}
func (NoopObserver) OnResync(ctx context.Context, sess *Session)                                {}
func (NoopObserver) OnError(ctx context.Context, userID string, err error)                      {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnStepAdvanced(ctx context.Context, sess *Session, from, to StepID, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepAdvanced(ctx, sess, from, to, d)
	}
}

func (c *CompositeObserver) OnOutOfSync(ctx context.Context, sess *Session, received SubmittedInstance) {
	for _, o := range c.observers {
		o.OnOutOfSync(ctx, sess, received)
	}
}

func (c *CompositeObserver) OnResync(ctx context.Context, sess *Session) {
	for _, o := range c.observers {
		o.OnResync(ctx, sess)
	}
}

func (c *CompositeObserver) OnError(ctx context.Context, userID string, err error) {
	for _, o := range c.observers {
		o.OnError(ctx, userID, err)
	}
}

// LoggingObserver writes structured audit events using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs session lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnStepAdvanced(ctx context.Context, sess *Session, from, to StepID, d time.Duration) {
	o.Logger.InfoContext(ctx, "step_advanced",
		slog.String("user_id", sess.UserID),
		slog.String("session_id", sess.SessionID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnOutOfSync(ctx context.Context, sess *Session, received SubmittedInstance) {
	o.Logger.WarnContext(ctx, "out_of_sync",
		slog.String("user_id", sess.UserID),
		slog.String("session_id", sess.SessionID),
		slog.String("expected", string(sess.CurrentStep)),
		slog.String("received", string(received.StepID)),
		slog.String("received_instance", received.InstanceID),
	)
}

func (o *LoggingObserver) OnResync(ctx context.Context, sess *Session) {
	o.Logger.InfoContext(ctx, "resync",
		slog.String("user_id", sess.UserID),
		slog.String("session_id", sess.SessionID),
		slog.String("current_step", string(sess.CurrentStep)),
	)
}

func (o *LoggingObserver) OnError(ctx context.Context, userID string, err error) {
	o.Logger.ErrorContext(ctx, "error",
		slog.String("user_id", userID),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate transition durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	stepsAdvanced     atomic.Int64
	outOfSync         atomic.Int64
	resyncs           atomic.Int64
	errors            atomic.Int64
	totalTransitionNs atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	StepsAdvanced int64
	OutOfSync     int64
	Resyncs       int64
	Errors        int64

	AvgTransitionDuration time.Duration
}

func (m *BasicMetrics) OnStepAdvanced(ctx context.Context, sess *Session, from, to StepID, d time.Duration) {
	m.stepsAdvanced.Add(1)
	m.totalTransitionNs.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnOutOfSync(ctx context.Context, sess *Session, received SubmittedInstance) {
	m.outOfSync.Add(1)
}

func (m *BasicMetrics) OnResync(ctx context.Context, sess *Session) {
	m.resyncs.Add(1)
}

func (m *BasicMetrics) OnError(ctx context.Context, userID string, err error) {
	m.errors.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	advanced := m.stepsAdvanced.Load()
	totalNs := m.totalTransitionNs.Load()

	var avg time.Duration
	if advanced > 0 {
		avg = time.Duration(totalNs / advanced)
	}

	return BasicMetricsSnapshot{
		StepsAdvanced:         advanced,
		OutOfSync:             m.outOfSync.Load(),
		Resyncs:               m.resyncs.Load(),
		Errors:                m.errors.Load(),
		AvgTransitionDuration: avg,
	}
}

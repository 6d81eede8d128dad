package stepflow

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/stepflow/internal/coord"
	"github.com/petrijr/stepflow/internal/engine"
	"github.com/petrijr/stepflow/internal/persistence"
	"github.com/petrijr/stepflow/pkg/api"
	"github.com/petrijr/stepflow/pkg/catalog"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Service              = api.Service
	StepID               = api.StepID
	StepKind             = api.StepKind
	StepDescriptor       = api.StepDescriptor
	StepInstance         = api.StepInstance
	SubmittedInstance    = api.SubmittedInstance
	Session              = api.Session
	Progress             = api.Progress
	SubmitRequest        = api.SubmitRequest
	SubmitResult         = api.SubmitResult
	ResyncResult         = api.ResyncResult
	RetryPolicy          = api.RetryPolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	OutOfSyncError       = api.OutOfSyncError
	ValidationError      = api.ValidationError
)

// Re-export common observer helpers and error predicates.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	IsOutOfSync          = api.IsOutOfSync
	IsValidationError    = api.IsValidationError
	IsLockTimeout        = api.IsLockTimeout
	IsRequestTimeout     = api.IsRequestTimeout
	IsRateLimit          = api.IsRateLimit
)

// Re-export step kinds for convenience.

const (
	KindConsent = api.KindConsent
	KindInfo    = api.KindInfo
	KindForm    = api.KindForm
	KindChoice  = api.KindChoice
	KindConnect = api.KindConnect
	KindReview  = api.KindReview
	KindDone    = api.KindDone
)

// Service constructors
// These wrap the internal/engine package so external callers never need to
// import internal packages. Every constructor uses the default step catalog;
// pass a custom table via Options for anything else.

// Options customizes a Service beyond the per-backend defaults. Nil fields
// keep the backend's own choice.
type Options struct {
	Table    *catalog.Table
	Observer api.Observer
	Retry    api.RetryPolicy
}

// NewInMemoryService returns a Service backed entirely by in-memory stores.
// Everything is lost on process exit; meant for tests and local development.
func NewInMemoryService() Service {
	return engine.New(engine.Config{})
}

// NewInMemoryServiceWithObserver returns an in-memory Service with the given Observer.
func NewInMemoryServiceWithObserver(obs Observer) Service {
	return engine.New(engine.Config{Observer: obs})
}

// NewSQLiteService returns a Service that persists sessions and the
// per-session lock in a SQLite database.
func NewSQLiteService(db *sql.DB) (Service, error) {
	return NewSQLiteServiceWithOptions(db, Options{})
}

// NewSQLiteServiceWithObserver returns a SQLite-backed Service with the given Observer.
func NewSQLiteServiceWithObserver(db *sql.DB, obs Observer) (Service, error) {
	return NewSQLiteServiceWithOptions(db, Options{Observer: obs})
}

// NewSQLiteServiceWithOptions is the fully configurable SQLite constructor.
func NewSQLiteServiceWithOptions(db *sql.DB, opts Options) (Service, error) {
	sessions, err := persistence.NewSQLiteSessionStore(db)
	if err != nil {
		return nil, err
	}
	locks, err := coord.NewSQLiteLockStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Table:    opts.Table,
		Sessions: sessions,
		Locks:    locks,
		Observer: opts.Observer,
		Retry:    opts.Retry,
	}), nil
}

// NewPostgresService returns a Service that persists sessions and the
// per-session lock in PostgreSQL, so multiple processes can share one
// onboarding state.
func NewPostgresService(db *sql.DB) (Service, error) {
	return NewPostgresServiceWithOptions(db, Options{})
}

// NewPostgresServiceWithObserver returns a Postgres-backed Service with the given Observer.
func NewPostgresServiceWithObserver(db *sql.DB, obs Observer) (Service, error) {
	return NewPostgresServiceWithOptions(db, Options{Observer: obs})
}

// NewPostgresServiceWithOptions is the fully configurable Postgres constructor.
func NewPostgresServiceWithOptions(db *sql.DB, opts Options) (Service, error) {
	sessions, err := persistence.NewPostgresSessionStore(db)
	if err != nil {
		return nil, err
	}
	locks, err := coord.NewPostgresLockStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Table:    opts.Table,
		Sessions: sessions,
		Locks:    locks,
		Observer: opts.Observer,
		Retry:    opts.Retry,
	}), nil
}

// NewRedisService returns a Service that keeps sessions, locks, the dedup
// result cache, and the rate limiter in Redis. This is the recommended
// backend for multi-instance deployments.
func NewRedisService(client *redis.Client) Service {
	return NewRedisServiceWithOptions(client, Options{})
}

// NewRedisServiceWithObserver returns a Redis-backed Service with the given Observer.
func NewRedisServiceWithObserver(client *redis.Client, obs Observer) Service {
	return NewRedisServiceWithOptions(client, Options{Observer: obs})
}

// NewRedisServiceWithOptions is the fully configurable Redis constructor.
func NewRedisServiceWithOptions(client *redis.Client, opts Options) Service {
	const prefix = "stepflow:"
	return engine.New(engine.Config{
		Table:    opts.Table,
		Sessions: persistence.NewRedisSessionStore(client, prefix),
		Locks:    coord.NewRedisLockStore(client, prefix),
		Dedup: coord.NewDeduplicator(coord.NewRedisResultCache(client, prefix),
			coord.DefaultCacheTTL, coord.DefaultHandlerTimeout),
		Limiter:  coord.NewRedisRateLimiter(client, prefix, coord.DefaultRateLimit, coord.DefaultRateWindow),
		Observer: opts.Observer,
		Retry:    opts.Retry,
	})
}

// NewMongoService returns a Service that persists sessions in MongoDB.
// Coordination (locks, dedup, rate limiting) stays in-process; pair this
// with NewMongoServiceWithCoordination for multi-instance deployments.
func NewMongoService(client *mongo.Client, dbName string) Service {
	return NewMongoServiceWithOptions(client, dbName, Options{})
}

// NewMongoServiceWithObserver returns a Mongo-backed Service with the given Observer.
func NewMongoServiceWithObserver(client *mongo.Client, dbName string, obs Observer) Service {
	return NewMongoServiceWithOptions(client, dbName, Options{Observer: obs})
}

// NewMongoServiceWithOptions is the fully configurable Mongo constructor.
func NewMongoServiceWithOptions(client *mongo.Client, dbName string, opts Options) Service {
	return engine.New(engine.Config{
		Table:    opts.Table,
		Sessions: persistence.NewMongoSessionStore(client, dbName),
		Observer: opts.Observer,
		Retry:    opts.Retry,
	})
}

// NewMongoServiceWithCoordination persists sessions in MongoDB while using
// Redis for locks, the dedup cache, and the rate limiter.
func NewMongoServiceWithCoordination(client *mongo.Client, dbName string, rdb *redis.Client, opts Options) Service {
	const prefix = "stepflow:"
	return engine.New(engine.Config{
		Table:    opts.Table,
		Sessions: persistence.NewMongoSessionStore(client, dbName),
		Locks:    coord.NewRedisLockStore(rdb, prefix),
		Dedup: coord.NewDeduplicator(coord.NewRedisResultCache(rdb, prefix),
			coord.DefaultCacheTTL, coord.DefaultHandlerTimeout),
		Limiter:  coord.NewRedisRateLimiter(rdb, prefix, coord.DefaultRateLimit, coord.DefaultRateWindow),
		Observer: opts.Observer,
		Retry:    opts.Retry,
	})
}

// DefaultCatalog returns the built-in onboarding step table.
func DefaultCatalog() *catalog.Table {
	return catalog.Default()
}

// Convenience helpers that just forward to the underlying Service.

// Submit applies one step submission for a user.
func Submit(ctx context.Context, svc Service, req SubmitRequest) (*SubmitResult, error) {
	return svc.Submit(ctx, req)
}

// Resync fetches the authoritative onboarding snapshot for a user.
func Resync(ctx context.Context, svc Service, userID string) (*ResyncResult, error) {
	return svc.Resync(ctx, userID)
}

// Package stepflow provides an embeddable onboarding step engine for Go.
//
// Stepflow drives a user through an ordered catalog of onboarding steps,
// keeping the authoritative position on the server. It is built for backend
// services whose clients are unreliable narrators: pages get refreshed,
// requests get retried, tabs get duplicated, and the server must stay
// consistent through all of it.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Service
//  2. Catalog
//  3. StepInstance
//  4. Observer
//
// # Service
//
// The Service is the single entry point. It exposes two operations:
//
//   - Submit applies one step submission, advances the session, and returns
//     the new position with a fresh transition token.
//   - Resync returns the full authoritative snapshot so a lost client can
//     recover in one round trip.
//
// Services can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// The SQLite and Postgres backends also store the per-session lock in the
// same database; the Redis backend additionally shares the deduplication
// cache and rate limiter, making it the natural choice when several
// instances serve the same users.
//
// # Catalog
//
// The catalog is the immutable table of steps and branch rules. Given the
// current step and a submission payload it deterministically yields the next
// step, so two identical sessions always advance the same way.
//
// # StepInstance
//
// Every presented step carries a single-use token (instance ID plus nonce).
// A submission must present the live token; consuming it mints a new one, so
// a stale page can never replay a transition. A mismatch comes back as an
// OutOfSyncError carrying the correct token.
//
// # Observer
//
// Observers receive engine events (step advanced, out of sync, resync,
// error) for logging and metrics. LoggingObserver writes structured logs via
// slog, BasicMetrics keeps cheap in-process counters, and the metrics
// package exports the same events to Prometheus.
//
// # Getting Started
//
//	svc := stepflow.NewInMemoryService()
//
//	snap, _ := svc.Resync(ctx, "user-1")
//	res, err := svc.Submit(ctx, stepflow.SubmitRequest{
//		UserID:     "user-1",
//		StepID:     snap.CurrentStep,
//		InstanceID: snap.StepInstance.InstanceID,
//		Nonce:      snap.StepInstance.Nonce,
//		Payload:    map[string]any{"accepted": true},
//	})
//
// See the pkg/httpapi package for the ready-made HTTP surface and
// cmd/stepflowd for a runnable daemon.
package stepflow

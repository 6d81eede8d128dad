package api

import "context"

// Service is the high-level onboarding API.
//
// Both operations are safe to call concurrently and to retry verbatim:
// Submit deduplicates byte-identical retries, and Resync is idempotent.
type Service interface {
	// Submit applies one step submission to the user's session.
	//
	// A valid submission consumes the live transition token, advances the
	// session to the next catalog step, and mints a fresh token. A stale
	// token yields an *OutOfSyncError carrying the authoritative live
	// instance so the client can recover without guessing.
	//
	// Submitting in the terminal step is a no-op that returns the terminal
	// snapshot.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)

	// Resync returns the full authoritative snapshot for the user,
	// creating the session on first contact. Safe to call any number of
	// times; it never consumes the live token.
	Resync(ctx context.Context, userID string) (*ResyncResult, error)
}

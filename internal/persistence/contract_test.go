package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/petrijr/stepflow/pkg/api"
)

// sessionStoreContract runs the behavioral contract shared by every
// SessionStore against a live backend. User IDs are unique per run so tests
// can hit a shared development instance without cleanup.
func sessionStoreContract(t *testing.T, store SessionStore) {
	t.Helper()
	ctx := context.Background()

	userID := fmt.Sprintf("contract-%s-%d", t.Name(), time.Now().UnixNano())
	sess := testSession(userID)
	sess.StepPayloads = map[api.StepID]any{
		"consent": map[string]any{"accepted": true},
	}

	if _, err := store.GetSession(ctx, userID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound before create, got %v", err)
	}

	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := store.SaveSession(ctx, sess); err == nil {
		t.Fatalf("expected error saving over an existing session")
	}

	got, err := store.GetSession(ctx, userID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.SessionID != sess.SessionID || got.CurrentStep != sess.CurrentStep {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if !got.CurrentInstance.Matches(api.SubmittedInstance{StepID: "consent", InstanceID: "i-1", Nonce: "n-1"}) {
		t.Fatalf("instance not preserved: %+v", got.CurrentInstance)
	}
	payload, ok := got.StepPayloads["consent"].(map[string]any)
	if !ok || payload["accepted"] != true {
		t.Fatalf("payload not preserved: %+v", got.StepPayloads)
	}

	sess.CurrentStep = "welcome"
	sess.CompletedSteps = []api.StepID{"consent"}
	if err := store.UpdateSession(ctx, sess); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	got, err = store.GetSession(ctx, userID)
	if err != nil {
		t.Fatalf("GetSession after update failed: %v", err)
	}
	if got.CurrentStep != "welcome" || len(got.CompletedSteps) != 1 {
		t.Fatalf("update not applied: %+v", got)
	}

	ghost := testSession(userID + "-ghost")
	if err := store.UpdateSession(ctx, ghost); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound updating a missing session, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.AppendAnswer(ctx, userID, "consent", map[string]any{"attempt": i}); err != nil {
			t.Fatalf("AppendAnswer %d failed: %v", i, err)
		}
	}

	// CommitTransition lands the session update and the answer together.
	sess.CurrentStep = "profile-name"
	sess.CompletedSteps = []api.StepID{"consent", "welcome"}
	if err := store.CommitTransition(ctx, sess, "welcome", map[string]any{"seen": true}); err != nil {
		t.Fatalf("CommitTransition failed: %v", err)
	}
	got, err = store.GetSession(ctx, userID)
	if err != nil {
		t.Fatalf("GetSession after commit failed: %v", err)
	}
	if got.CurrentStep != "profile-name" || len(got.CompletedSteps) != 2 {
		t.Fatalf("commit not applied: %+v", got)
	}
	if err := store.CommitTransition(ctx, ghost, "consent", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound committing a missing session, got %v", err)
	}
}

package engine

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/stepflow/pkg/api"
)

// MintInstance creates a fresh single-use transition token for step.
// Nonces come from crypto/rand so a client cannot predict the next token.
func MintInstance(step api.StepID) api.StepInstance {
	return api.StepInstance{
		StepID:     step,
		InstanceID: uuid.NewString(),
		Nonce:      newNonce(),
		CreatedAt:  time.Now().UTC(),
	}
}

func newNonce() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read only fails when the OS entropy source is broken, in
		// which case nothing in the process can be trusted anyway.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ValidateInstance checks a submitted token triple against the session's
// live instance. On mismatch it returns an *api.OutOfSyncError carrying the
// authoritative instance so the caller can recover in one round trip.
func ValidateInstance(sess *api.Session, sub api.SubmittedInstance) error {
	if sess.CurrentInstance.Matches(sub) {
		return nil
	}
	return &api.OutOfSyncError{
		Expected:        sess.CurrentStep,
		Received:        sub.StepID,
		CorrectInstance: sess.CurrentInstance,
	}
}

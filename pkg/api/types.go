package api

import (
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(StepInstance{})
	gob.Register(StepID(""))
	gob.Register([]StepID{})
	gob.Register(map[StepID]any{})
	gob.Register(&SubmitResult{})
}

// StepID identifies one step in the onboarding catalog.
type StepID string

// StepKind describes which client component renders a step.
type StepKind string

const (
	KindConsent StepKind = "consent"
	KindInfo    StepKind = "info"
	KindForm    StepKind = "form"
	KindChoice  StepKind = "choice"
	KindConnect StepKind = "connect"
	KindReview  StepKind = "review"
	KindDone    StepKind = "done"
)

// StepDescriptor is the immutable display metadata for a catalog step.
type StepDescriptor struct {
	ID        StepID   `json:"id"`
	Label     string   `json:"label"`
	Kind      StepKind `json:"kind"`
	Skippable bool     `json:"skippable"`
}

// StepInstance is the single-use transition token for a presented step.
//
// Exactly one instance is live per session at any time. A successful
// submission consumes it and mints a new one for the resulting step, so a
// stale page can never replay a transition.
type StepInstance struct {
	StepID     StepID    `json:"stepId"`
	InstanceID string    `json:"instanceId"`
	Nonce      string    `json:"nonce"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SubmittedInstance is the token triple a client presents with a submission.
type SubmittedInstance struct {
	StepID     StepID `json:"stepId"`
	InstanceID string `json:"instanceId"`
	Nonce      string `json:"nonce"`
}

// Matches reports whether the submitted triple is byte-for-byte equal to the
// live instance. All three fields must match.
func (i StepInstance) Matches(sub SubmittedInstance) bool {
	return i.StepID == sub.StepID &&
		i.InstanceID == sub.InstanceID &&
		i.Nonce == sub.Nonce
}

// Session is the server-owned authoritative onboarding state for a user.
// Clients only ever see read-only snapshots of it.
type Session struct {
	UserID          string         `json:"userId"`
	SessionID       string         `json:"sessionId"`
	CurrentStep     StepID         `json:"currentStep"`
	CurrentInstance StepInstance   `json:"currentInstance"`
	CompletedSteps  []StepID       `json:"completedSteps"`
	StepPayloads    map[StepID]any `json:"stepPayloads,omitempty"`
	LastUpdated     time.Time      `json:"lastUpdated"`
}

// Clone returns a deep-enough copy so that callers can hand the result
// across a store boundary without aliasing the original's slices and maps.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.CompletedSteps = append([]StepID(nil), s.CompletedSteps...)
	if s.StepPayloads != nil {
		cp.StepPayloads = make(map[StepID]any, len(s.StepPayloads))
		for k, v := range s.StepPayloads {
			cp.StepPayloads[k] = v
		}
	}
	return &cp
}

// HasCompleted reports whether step is already in the completed set.
func (s *Session) HasCompleted(step StepID) bool {
	for _, c := range s.CompletedSteps {
		if c == step {
			return true
		}
	}
	return false
}

// Progress is the client-facing position summary for a step.
type Progress struct {
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
	NextStep   StepID `json:"nextStep,omitempty"`
	NextLabel  string `json:"nextLabel,omitempty"`
}

// SubmitRequest is one step submission.
//
// Payload carries the step's business answer; the engine treats it as opaque
// except for branch predicates that read well-known keys (e.g. "choice").
type SubmitRequest struct {
	UserID     string         `json:"-"`
	StepID     StepID         `json:"stepId"`
	InstanceID string         `json:"instanceId"`
	Nonce      string         `json:"nonce"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Submitted returns the token triple carried by the request.
func (r SubmitRequest) Submitted() SubmittedInstance {
	return SubmittedInstance{StepID: r.StepID, InstanceID: r.InstanceID, Nonce: r.Nonce}
}

// SubmitResult is the success envelope for an accepted (or deduplicated)
// submission.
type SubmitResult struct {
	Success        bool           `json:"success"`
	CurrentStep    StepID         `json:"currentStep"`
	StepInstance   StepInstance   `json:"stepInstance"`
	Descriptor     StepDescriptor `json:"descriptor"`
	Progress       Progress       `json:"progress"`
	CompletedSteps []StepID       `json:"completedSteps"`
}

// ResyncResult is the full authoritative snapshot returned by Resync.
type ResyncResult struct {
	CurrentStep    StepID       `json:"currentStep"`
	StepInstance   StepInstance `json:"stepInstance"`
	Progress       Progress     `json:"progress"`
	CompletedSteps []StepID     `json:"completedSteps"`
	SessionID      string       `json:"sessionId"`
	ResyncedAt     time.Time    `json:"resyncedAt"`
}

// RetryPolicy controls how a persistence operation is retried when it fails
// with a transient error. MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

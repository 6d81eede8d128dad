package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/petrijr/stepflow/pkg/api"
)

// InMemorySessionStore is a simple, goroutine-safe SessionStore backed by
// maps. Sessions are copied on the way in and out so callers can never
// mutate stored state behind the store's back.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*api.Session
	answers  map[string][]answerRecord
}

type answerRecord struct {
	step       api.StepID
	payload    any
	recordedAt time.Time
}

var _ SessionStore = (*InMemorySessionStore)(nil)

// NewInMemorySessionStore creates a new InMemorySessionStore.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]*api.Session),
		answers:  make(map[string][]answerRecord),
	}
}

func (s *InMemorySessionStore) GetSession(ctx context.Context, userID string) (*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemorySessionStore) SaveSession(ctx context.Context, sess *api.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.UserID]; ok {
		return fmt.Errorf("session already exists for user %q", sess.UserID)
	}
	s.sessions[sess.UserID] = sess.Clone()
	return nil
}

func (s *InMemorySessionStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.UserID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[sess.UserID] = sess.Clone()
	return nil
}

func (s *InMemorySessionStore) AppendAnswer(ctx context.Context, userID string, step api.StepID, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.answers[userID] = append(s.answers[userID], answerRecord{
		step:       step,
		payload:    payload,
		recordedAt: time.Now(),
	})
	return nil
}

func (s *InMemorySessionStore) CommitTransition(ctx context.Context, sess *api.Session, from api.StepID, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.UserID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[sess.UserID] = sess.Clone()
	s.answers[sess.UserID] = append(s.answers[sess.UserID], answerRecord{
		step:       from,
		payload:    payload,
		recordedAt: time.Now(),
	})
	return nil
}

// AnswerCount reports how many answers have been recorded for a user.
// Primarily useful in tests asserting exactly-once persistence.
func (s *InMemorySessionStore) AnswerCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.answers[userID])
}

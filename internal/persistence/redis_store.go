package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/stepflow/pkg/api"
)

// RedisSessionStore is a SessionStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>sess:<userID>     => gob-encoded redisSessionPayload
//	<prefix>answers:<userID>  => LIST of gob-encoded redisAnswerPayload
//
// Sessions are created with SETNX and updated with SETXX, so create/update
// semantics match the relational stores without a transaction.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

var _ SessionStore = (*RedisSessionStore)(nil)

type redisSessionPayload struct {
	UserID            string
	SessionID         string
	CurrentStep       string
	InstanceID        string
	Nonce             string
	InstanceCreatedAt int64
	CompletedSteps    []byte
	StepPayloads      []byte
	LastUpdated       int64
}

type redisAnswerPayload struct {
	Step       string
	Payload    []byte
	RecordedAt int64
}

// NewRedisSessionStore creates a RedisSessionStore.
// prefix is optional but recommended (e.g. "stepflow:").
func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "stepflow:"
	}
	return &RedisSessionStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisSessionStore) keySession(userID string) string {
	return s.prefix + "sess:" + userID
}

func (s *RedisSessionStore) keyAnswers(userID string) string {
	return s.prefix + "answers:" + userID
}

func encodeRedisSession(sess *api.Session) ([]byte, error) {
	completed, payloads, err := encodeSessionBlobs(sess)
	if err != nil {
		return nil, err
	}

	payload := redisSessionPayload{
		UserID:            sess.UserID,
		SessionID:         sess.SessionID,
		CurrentStep:       string(sess.CurrentStep),
		InstanceID:        sess.CurrentInstance.InstanceID,
		Nonce:             sess.CurrentInstance.Nonce,
		InstanceCreatedAt: sess.CurrentInstance.CreatedAt.UnixNano(),
		CompletedSteps:    completed,
		StepPayloads:      payloads,
		LastUpdated:       sess.LastUpdated.UnixNano(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisSession(data []byte) (*api.Session, error) {
	if len(data) == 0 {
		return nil, ErrSessionNotFound
	}
	var payload redisSessionPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	completed, err := DecodeValue[[]api.StepID](payload.CompletedSteps)
	if err != nil {
		return nil, err
	}
	stepPayloads, err := DecodeValue[map[api.StepID]any](payload.StepPayloads)
	if err != nil {
		return nil, err
	}

	return &api.Session{
		UserID:      payload.UserID,
		SessionID:   payload.SessionID,
		CurrentStep: api.StepID(payload.CurrentStep),
		CurrentInstance: api.StepInstance{
			StepID:     api.StepID(payload.CurrentStep),
			InstanceID: payload.InstanceID,
			Nonce:      payload.Nonce,
			CreatedAt:  time.Unix(0, payload.InstanceCreatedAt).UTC(),
		},
		CompletedSteps: completed,
		StepPayloads:   stepPayloads,
		LastUpdated:    time.Unix(0, payload.LastUpdated).UTC(),
	}, nil
}

func (s *RedisSessionStore) GetSession(ctx context.Context, userID string) (*api.Session, error) {
	data, err := s.client.Get(ctx, s.keySession(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return decodeRedisSession(data)
}

func (s *RedisSessionStore) SaveSession(ctx context.Context, sess *api.Session) error {
	data, err := encodeRedisSession(sess)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.keySession(sess.UserID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session for user %q already exists", sess.UserID)
	}
	return nil
}

func (s *RedisSessionStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	data, err := encodeRedisSession(sess)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.keySession(sess.UserID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisSessionStore) AppendAnswer(ctx context.Context, userID string, step api.StepID, payload any) error {
	data, err := encodeRedisAnswer(step, payload)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.keyAnswers(userID), data).Err()
}

func encodeRedisAnswer(step api.StepID, payload any) ([]byte, error) {
	encoded, err := EncodeValue(payload)
	if err != nil {
		return nil, err
	}
	answer := redisAnswerPayload{
		Step:       string(step),
		Payload:    encoded,
		RecordedAt: time.Now().UnixNano(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&answer); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Writes the session and pushes the answer only if the session exists.
// Returns 1 on commit, 0 when the session is missing.
var redisCommitTransitionLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[2])
return 1
`

// CommitTransition updates the session and appends the answer in one Lua
// script, so both land or neither does.
func (s *RedisSessionStore) CommitTransition(ctx context.Context, sess *api.Session, from api.StepID, payload any) error {
	sessData, err := encodeRedisSession(sess)
	if err != nil {
		return err
	}
	answerData, err := encodeRedisAnswer(from, payload)
	if err != nil {
		return err
	}

	res, err := s.client.Eval(ctx, redisCommitTransitionLua,
		[]string{s.keySession(sess.UserID), s.keyAnswers(sess.UserID)},
		sessData, answerData,
	).Result()
	if err != nil {
		return err
	}
	if n, ok := res.(int64); !ok || n != 1 {
		return ErrSessionNotFound
	}
	return nil
}

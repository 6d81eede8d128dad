package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/stepflow/pkg/api"
)

// MongoSessionStore is a SessionStore backed by MongoDB. Sessions live in one
// collection keyed by user ID; answers are appended to a sibling collection.
type MongoSessionStore struct {
	sessions *mongo.Collection
	answers  *mongo.Collection
}

var _ SessionStore = (*MongoSessionStore)(nil)

// NewMongoSessionStore creates a Mongo-backed session store.
// dbName defaults to "stepflow" if empty.
func NewMongoSessionStore(client *mongo.Client, dbName string) *MongoSessionStore {
	if dbName == "" {
		dbName = "stepflow"
	}
	db := client.Database(dbName)
	return &MongoSessionStore{
		sessions: db.Collection("sessions"),
		answers:  db.Collection("step_answers"),
	}
}

type mongoSessionDoc struct {
	UserID            string `bson:"_id"`
	SessionID         string `bson:"session_id"`
	CurrentStep       string `bson:"current_step"`
	InstanceID        string `bson:"instance_id"`
	Nonce             string `bson:"nonce"`
	InstanceCreatedAt int64  `bson:"instance_created_at"`
	CompletedSteps    []byte `bson:"completed_steps,omitempty"`
	StepPayloads      []byte `bson:"step_payloads,omitempty"`
	LastUpdated       int64  `bson:"last_updated"`
}

type mongoAnswerDoc struct {
	UserID     string `bson:"user_id"`
	Step       string `bson:"step"`
	Payload    []byte `bson:"payload,omitempty"`
	RecordedAt int64  `bson:"recorded_at"`
}

func newMongoSessionDoc(sess *api.Session) (*mongoSessionDoc, error) {
	completed, payloads, err := encodeSessionBlobs(sess)
	if err != nil {
		return nil, err
	}
	return &mongoSessionDoc{
		UserID:            sess.UserID,
		SessionID:         sess.SessionID,
		CurrentStep:       string(sess.CurrentStep),
		InstanceID:        sess.CurrentInstance.InstanceID,
		Nonce:             sess.CurrentInstance.Nonce,
		InstanceCreatedAt: sess.CurrentInstance.CreatedAt.UnixNano(),
		CompletedSteps:    completed,
		StepPayloads:      payloads,
		LastUpdated:       sess.LastUpdated.UnixNano(),
	}, nil
}

func (d *mongoSessionDoc) toSession() (*api.Session, error) {
	completed, err := DecodeValue[[]api.StepID](d.CompletedSteps)
	if err != nil {
		return nil, err
	}
	stepPayloads, err := DecodeValue[map[api.StepID]any](d.StepPayloads)
	if err != nil {
		return nil, err
	}

	return &api.Session{
		UserID:      d.UserID,
		SessionID:   d.SessionID,
		CurrentStep: api.StepID(d.CurrentStep),
		CurrentInstance: api.StepInstance{
			StepID:     api.StepID(d.CurrentStep),
			InstanceID: d.InstanceID,
			Nonce:      d.Nonce,
			CreatedAt:  time.Unix(0, d.InstanceCreatedAt).UTC(),
		},
		CompletedSteps: completed,
		StepPayloads:   stepPayloads,
		LastUpdated:    time.Unix(0, d.LastUpdated).UTC(),
	}, nil
}

func (s *MongoSessionStore) GetSession(ctx context.Context, userID string) (*api.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc mongoSessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return doc.toSession()
}

func (s *MongoSessionStore) SaveSession(ctx context.Context, sess *api.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc, err := newMongoSessionDoc(sess)
	if err != nil {
		return err
	}
	// Duplicate _id surfaces as an error from InsertOne; callers create
	// sessions at most once per user.
	_, err = s.sessions.InsertOne(ctx, doc)
	return err
}

func (s *MongoSessionStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc, err := newMongoSessionDoc(sess)
	if err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"session_id":          doc.SessionID,
			"current_step":        doc.CurrentStep,
			"instance_id":         doc.InstanceID,
			"nonce":               doc.Nonce,
			"instance_created_at": doc.InstanceCreatedAt,
			"completed_steps":     doc.CompletedSteps,
			"step_payloads":       doc.StepPayloads,
			"last_updated":        doc.LastUpdated,
		},
	}

	res, err := s.sessions.UpdateByID(ctx, sess.UserID, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *MongoSessionStore) AppendAnswer(ctx context.Context, userID string, step api.StepID, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}
	_, err = s.answers.InsertOne(ctx, mongoAnswerDoc{
		UserID:     userID,
		Step:       string(step),
		Payload:    data,
		RecordedAt: time.Now().UnixNano(),
	})
	return err
}

// CommitTransition updates the session first and appends the answer only
// after that succeeds. Standalone mongod has no multi-document transactions,
// so the session update is the commit point: re-running the commit repeats
// the idempotent update and appends the answer at most once.
func (s *MongoSessionStore) CommitTransition(ctx context.Context, sess *api.Session, from api.StepID, payload any) error {
	if err := s.UpdateSession(ctx, sess); err != nil {
		return err
	}
	return s.AppendAnswer(ctx, sess.UserID, from, payload)
}

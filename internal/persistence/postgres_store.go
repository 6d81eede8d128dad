package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/stepflow/pkg/api"
)

// PostgresSessionStore is a SessionStore backed by PostgreSQL.
//
// It expects an *sql.DB using a Postgres driver (for example,
// "github.com/jackc/pgx/v5/stdlib"). Session updates run in SERIALIZABLE
// transactions: a concurrent writer fails with a serialization error
// (SQLSTATE 40001) instead of silently overwriting, and the retrier
// classifies that as transient.
type PostgresSessionStore struct {
	db *sql.DB
}

var _ SessionStore = (*PostgresSessionStore)(nil)

// NewPostgresSessionStore initializes the required schema in the given
// database and returns a new PostgresSessionStore.
func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	s := &PostgresSessionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSessionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			user_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			current_step TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			nonce TEXT NOT NULL,
			instance_created_at BIGINT NOT NULL,
			completed_steps BYTEA,
			step_payloads BYTEA,
			last_updated BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS step_answers (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			step TEXT NOT NULL,
			payload BYTEA,
			recorded_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_step_answers_user ON step_answers(user_id);`,
	)
	return err
}

func (s *PostgresSessionStore) GetSession(ctx context.Context, userID string) (*api.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, current_step, instance_id, nonce, instance_created_at,
		       completed_steps, step_payloads, last_updated
		FROM sessions WHERE user_id = $1`, userID)

	return scanSession(row)
}

func (s *PostgresSessionStore) SaveSession(ctx context.Context, sess *api.Session) error {
	completed, payloads, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, session_id, current_step, instance_id, nonce,
		                      instance_created_at, completed_steps, step_payloads, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.UserID,
		sess.SessionID,
		string(sess.CurrentStep),
		sess.CurrentInstance.InstanceID,
		sess.CurrentInstance.Nonce,
		sess.CurrentInstance.CreatedAt.UnixNano(),
		completed,
		payloads,
		sess.LastUpdated.UnixNano(),
	)
	return err
}

func (s *PostgresSessionStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	completed, payloads, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.updateSessionTx(ctx, tx, sess, completed, payloads); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresSessionStore) updateSessionTx(ctx context.Context, tx *sql.Tx, sess *api.Session, completed, payloads []byte) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET session_id = $1, current_step = $2, instance_id = $3, nonce = $4,
		    instance_created_at = $5, completed_steps = $6, step_payloads = $7, last_updated = $8
		WHERE user_id = $9`,
		sess.SessionID,
		string(sess.CurrentStep),
		sess.CurrentInstance.InstanceID,
		sess.CurrentInstance.Nonce,
		sess.CurrentInstance.CreatedAt.UnixNano(),
		completed,
		payloads,
		sess.LastUpdated.UnixNano(),
		sess.UserID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresSessionStore) AppendAnswer(ctx context.Context, userID string, step api.StepID, payload any) error {
	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_answers (user_id, step, payload, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		userID, string(step), data, time.Now().UnixNano(),
	)
	return err
}

// CommitTransition writes the updated session and the answer row in one
// SERIALIZABLE transaction; a serialization failure rolls back both, so the
// retrier can safely re-run the whole commit.
func (s *PostgresSessionStore) CommitTransition(ctx context.Context, sess *api.Session, from api.StepID, payload any) error {
	completed, payloads, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}
	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.updateSessionTx(ctx, tx, sess, completed, payloads); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_answers (user_id, step, payload, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		sess.UserID, string(from), data, time.Now().UnixNano(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/petrijr/stepflow/pkg/api"
)

// SQLiteSessionStore is a SessionStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteSessionStore struct {
	db *sql.DB
}

var _ SessionStore = (*SQLiteSessionStore)(nil)

// NewSQLiteSessionStore initializes the required schema in the given
// database and returns a new SQLiteSessionStore.
func NewSQLiteSessionStore(db *sql.DB) (*SQLiteSessionStore, error) {
	s := &SQLiteSessionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSessionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			user_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			current_step TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			nonce TEXT NOT NULL,
			instance_created_at INTEGER NOT NULL,
			completed_steps BLOB,
			step_payloads BLOB,
			last_updated INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS step_answers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			step TEXT NOT NULL,
			payload BLOB,
			recorded_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_step_answers_user ON step_answers(user_id);`,
	)
	return err
}

func (s *SQLiteSessionStore) GetSession(ctx context.Context, userID string) (*api.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, current_step, instance_id, nonce, instance_created_at,
		       completed_steps, step_payloads, last_updated
		FROM sessions WHERE user_id = ?`, userID)

	return scanSession(row)
}

func (s *SQLiteSessionStore) SaveSession(ctx context.Context, sess *api.Session) error {
	completed, payloads, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, session_id, current_step, instance_id, nonce,
		                      instance_created_at, completed_steps, step_payloads, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteSessionStore) UpdateSession(ctx context.Context, sess *api.Session) error {
	completed, payloads, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}

	// SQLite serializes writers; a concurrent write surfaces as a busy/
	// locked error, which the retrier classifies as transient.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.updateSessionTx(ctx, tx, sess, completed, payloads); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteSessionStore) updateSessionTx(ctx context.Context, tx *sql.Tx, sess *api.Session, completed, payloads []byte) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET session_id = ?, current_step = ?, instance_id = ?, nonce = ?,
		    instance_created_at = ?, completed_steps = ?, step_payloads = ?, last_updated = ?
		WHERE user_id = ?`,
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

func (s *SQLiteSessionStore) AppendAnswer(ctx context.Context, userID string, step api.StepID, payload any) error {
	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_answers (user_id, step, payload, recorded_at)
		VALUES (?, ?, ?, ?)`,
		userID, string(step), data, time.Now().UnixNano(),
	)
	return err
}

// CommitTransition writes the updated session and the answer row in one
// transaction, so a retried commit can never leave a duplicate answer or an
// orphan behind.
func (s *SQLiteSessionStore) CommitTransition(ctx context.Context, sess *api.Session, from api.StepID, payload any) error {
	completed, payloads, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}
	data, err := EncodeValue(payload)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.updateSessionTx(ctx, tx, sess, completed, payloads); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_answers (user_id, step, payload, recorded_at)
		VALUES (?, ?, ?, ?)`,
		sess.UserID, string(from), data, time.Now().UnixNano(),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// AnswerCount reports how many answers have been recorded for a user.
func (s *SQLiteSessionStore) AnswerCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM step_answers WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// rowScanner lets scanSession work for both QueryRow and Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*api.Session, error) {
	var (
		sess                 api.Session
		currentStep          string
		instanceCreatedNanos int64
		lastUpdatedNanos     int64
		completed            []byte
		payloads             []byte
	)

	err := row.Scan(
		&sess.UserID,
		&sess.SessionID,
		&currentStep,
		&sess.CurrentInstance.InstanceID,
		&sess.CurrentInstance.Nonce,
		&instanceCreatedNanos,
		&completed,
		&payloads,
		&lastUpdatedNanos,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	sess.CurrentStep = api.StepID(currentStep)
	sess.CurrentInstance.StepID = sess.CurrentStep
	sess.CurrentInstance.CreatedAt = time.Unix(0, instanceCreatedNanos).UTC()
	sess.LastUpdated = time.Unix(0, lastUpdatedNanos).UTC()

	completedVal, err := DecodeValue[[]api.StepID](completed)
	if err != nil {
		return nil, err
	}
	sess.CompletedSteps = completedVal

	payloadsVal, err := DecodeValue[map[api.StepID]any](payloads)
	if err != nil {
		return nil, err
	}
	sess.StepPayloads = payloadsVal

	return &sess, nil
}

func encodeSessionBlobs(sess *api.Session) (completed, payloads []byte, err error) {
	completed, err = EncodeValue(sess.CompletedSteps)
	if err != nil {
		return nil, nil, err
	}
	payloads, err = EncodeValue(sess.StepPayloads)
	if err != nil {
		return nil, nil, err
	}
	return completed, payloads, nil
}

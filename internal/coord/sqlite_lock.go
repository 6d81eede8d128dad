package coord

import (
	"context"
	"database/sql"
	"time"
)

// SQLiteLockStore is a LockStore backed by a SQLite table, so the
// per-session lock survives alongside the session data in the same
// database file.
//
// It expects an *sql.DB using a SQLite driver (for example,
// "modernc.org/sqlite"); the caller imports the driver.
type SQLiteLockStore struct {
	db *sql.DB
}

var _ LockStore = (*SQLiteLockStore)(nil)

// NewSQLiteLockStore initializes the lock schema in the given database and
// returns a new SQLiteLockStore.
func NewSQLiteLockStore(db *sql.DB) (*SQLiteLockStore, error) {
	s := &SQLiteLockStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteLockStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS locks (
			key TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteLockStore) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl).UnixNano()

	// Single upsert: take the row if it is free, expired, or already ours.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (key, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE locks.holder = excluded.holder OR locks.expires_at <= ?`,
		key, holder, expires, now.UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteLockStore) Release(ctx context.Context, key, holder string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM locks
		WHERE key = ? AND holder = ? AND expires_at > ?`,
		key, holder, time.Now().UnixNano(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

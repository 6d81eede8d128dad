package coord

import (
	"context"
	"database/sql"
	"time"
)

// PostgresLockStore is a LockStore backed by a PostgreSQL table, so the
// per-session lock is shared by every process pointed at the same database.
type PostgresLockStore struct {
	db *sql.DB
}

var _ LockStore = (*PostgresLockStore)(nil)

// NewPostgresLockStore initializes the lock schema in the given database and
// returns a new PostgresLockStore.
func NewPostgresLockStore(db *sql.DB) (*PostgresLockStore, error) {
	s := &PostgresLockStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresLockStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS locks (
			key TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at BIGINT NOT NULL
		);`,
	)
	return err
}

func (s *PostgresLockStore) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl).UnixNano()

	// Single upsert: take the row if it is free, expired, or already ours.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (key, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE locks.holder = excluded.holder OR locks.expires_at <= $4`,
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

func (s *PostgresLockStore) Release(ctx context.Context, key, holder string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM locks
		WHERE key = $1 AND holder = $2 AND expires_at > $3`,
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

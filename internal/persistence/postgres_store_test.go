package persistence

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Runs only when STEPFLOW_TEST_POSTGRES_DSN points at a live database, e.g.
//
//	STEPFLOW_TEST_POSTGRES_DSN=postgres://localhost/stepflow_test go test ./internal/persistence/

func TestPostgresSessionStore_Contract(t *testing.T) {
	dsn := os.Getenv("STEPFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STEPFLOW_TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewPostgresSessionStore(db)
	if err != nil {
		t.Fatalf("NewPostgresSessionStore failed: %v", err)
	}
	sessionStoreContract(t, store)
}

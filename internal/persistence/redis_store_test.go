package persistence

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// Runs only when STEPFLOW_TEST_REDIS_ADDR points at a live instance, e.g.
//
//	STEPFLOW_TEST_REDIS_ADDR=localhost:6379 go test ./internal/persistence/

func TestRedisSessionStore_Contract(t *testing.T) {
	addr := os.Getenv("STEPFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STEPFLOW_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	sessionStoreContract(t, NewRedisSessionStore(client, "stepflow-test:"))
}

package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Runs only when STEPFLOW_TEST_MONGO_URI points at a live instance, e.g.
//
//	STEPFLOW_TEST_MONGO_URI=mongodb://localhost:27017 go test ./internal/persistence/

func TestMongoSessionStore_Contract(t *testing.T) {
	uri := os.Getenv("STEPFLOW_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("STEPFLOW_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	sessionStoreContract(t, NewMongoSessionStore(client, "stepflow_test"))
}

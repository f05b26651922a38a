package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/xraph/credit/id"
	"github.com/xraph/credit/store"
	"github.com/xraph/credit/store/mongo"
	"github.com/xraph/credit/store/storetest"
)

// newStore returns a store on a fresh database that is dropped on cleanup.
// The server must be a replica set.
func newStore(t *testing.T) store.Store {
	t.Helper()

	uri := os.Getenv("CREDIT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CREDIT_TEST_MONGO_URI not set")
	}
	ctx := context.Background()

	s, err := mongo.Open(ctx, uri, "credit_test_"+id.NewTransactionID().String()[4:])
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Database().Drop(context.Background())
		_ = s.Close()
	})

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, newStore)
}

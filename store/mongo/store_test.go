//go:build integration

package mongo_test

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/store/mongo"
	"github.com/xraph/asyncjob/store/storetest"
)

// setupTestStore starts a MongoDB container and returns a migrated Store.
func setupTestStore(t *testing.T) *mongo.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := mongo.Open(ctx, uri, "asyncjob_test")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStoreSuite(t *testing.T) {
	s := setupTestStore(t)

	storetest.Run(t, func(t *testing.T) job.Store {
		_, err := s.Database().Collection("asyncjob_jobs").DeleteMany(context.Background(), bson.M{})
		if err != nil {
			t.Fatalf("clear: %v", err)
		}
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

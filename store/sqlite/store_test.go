package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/store/sqlite"
	"github.com/xraph/asyncjob/store/storetest"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "asyncjob.db"))
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
	storetest.Run(t, func(t *testing.T) job.Store { return newTestStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var applied int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM asyncjob_migrations`).Scan(&applied); err != nil {
		t.Fatal(err)
	}
	if applied != 1 {
		t.Errorf("applied migrations = %d, want 1", applied)
	}
}

func TestNewFromDBDoesNotCloseHandle(t *testing.T) {
	owner := newTestStore(t)
	borrowed := sqlite.NewFromDB(owner.DB())

	if err := borrowed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := owner.Ping(context.Background()); err != nil {
		t.Fatalf("handle closed by borrower: %v", err)
	}
}

func TestNullColumnsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := storetest.NewJob(job.TypeBulkImport, job.StatusPending)
	j.Metadata = nil
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Errorf("timestamps = %v/%v, want nil", got.StartedAt, got.CompletedAt)
	}
	if got.Results != nil || got.Metadata != nil {
		t.Errorf("results=%s metadata=%v, want nil", got.Results, got.Metadata)
	}
}

// Package storetest provides a behavioral test suite every job.Store
// backend must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) job.Store

// NewJob builds a job record with sensible defaults for store tests.
func NewJob(t job.Type, status job.Status) *job.Job {
	return &job.Job{
		Entity:         asyncjob.NewEntity(),
		ID:             id.NewJobID(),
		Type:           t,
		Status:         status,
		Metadata:       map[string]any{"source": "storetest"},
		TimeoutSeconds: 60,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s job.Store)
	}{
		{"SaveAndGet", testSaveAndGet},
		{"GetMissing", testGetMissing},
		{"SaveUpserts", testSaveUpserts},
		{"UpdateCompareAndSet", testUpdateCompareAndSet},
		{"GetByEntity", testGetByEntity},
		{"ListByStatus", testListByStatus},
		{"ListTimedOut", testListTimedOut},
		{"ListStalePending", testListStalePending},
		{"Delete", testDelete},
		{"Count", testCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testSaveAndGet(t *testing.T, s job.Store) {
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Second)
	j := NewJob(job.TypeResumeAnalysis, job.StatusCompleted)
	j.EntityType = "candidate"
	j.EntityID = "cand-42"
	j.Progress = 100
	j.Message = "done"
	j.StartedAt = &started
	j.CompletedAt = &j.UpdatedAt
	j.Results = json.RawMessage(`{"score":87}`)

	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("ID = %q, want %q", got.ID, j.ID)
	}
	if got.Type != j.Type || got.Status != j.Status || got.Progress != 100 {
		t.Errorf("got type=%s status=%s progress=%d", got.Type, got.Status, got.Progress)
	}
	if got.EntityType != "candidate" || got.EntityID != "cand-42" {
		t.Errorf("entity = %s/%s", got.EntityType, got.EntityID)
	}
	if got.Message != "done" || got.TimeoutSeconds != 60 {
		t.Errorf("message=%q timeout=%d", got.Message, got.TimeoutSeconds)
	}
	if got.StartedAt == nil || !sameInstant(*got.StartedAt, started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not persisted")
	}
	if !sameInstant(got.CreatedAt, j.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, j.CreatedAt)
	}

	var results map[string]any
	if err := json.Unmarshal(got.Results, &results); err != nil {
		t.Fatalf("results: %v", err)
	}
	if results["score"] != float64(87) {
		t.Errorf("results = %v", results)
	}
	if got.Metadata["source"] != "storetest" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func testGetMissing(t *testing.T, s job.Store) {
	_, err := s.GetJob(context.Background(), id.NewJobID())
	if !errors.Is(err, asyncjob.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func testSaveUpserts(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := NewJob(job.TypePDFAnalysis, job.StatusPending)
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	j.Status = job.StatusProcessing
	j.Progress = 30
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("second SaveJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusProcessing || got.Progress != 30 {
		t.Errorf("status=%s progress=%d after upsert", got.Status, got.Progress)
	}
}

func testUpdateCompareAndSet(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := NewJob(job.TypePDFAnalysis, job.StatusProcessing)
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	done := *j
	done.Status = job.StatusCompleted
	done.Progress = 100
	done.Results = json.RawMessage(`{}`)
	if err := s.UpdateJob(ctx, &done, job.StatusProcessing); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	failed := *j
	failed.Status = job.StatusFailed
	failed.ErrorMessage = "late"
	err := s.UpdateJob(ctx, &failed, job.StatusProcessing)
	if !errors.Is(err, asyncjob.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != job.StatusCompleted || got.ErrorMessage != "" {
		t.Errorf("status=%s error=%q, conflicting write leaked", got.Status, got.ErrorMessage)
	}

	missing := NewJob(job.TypePDFAnalysis, job.StatusProcessing)
	err = s.UpdateJob(ctx, missing, job.StatusPending)
	if !errors.Is(err, asyncjob.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func testGetByEntity(t *testing.T, s job.Store) {
	ctx := context.Background()

	older := NewJob(job.TypeResumeAnalysis, job.StatusFailed)
	older.EntityType, older.EntityID = "candidate", "c-1"
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)

	newest := NewJob(job.TypeResumeAnalysis, job.StatusPending)
	newest.EntityType, newest.EntityID = "candidate", "c-1"

	otherType := NewJob(job.TypePDFAnalysis, job.StatusPending)
	otherType.EntityType, otherType.EntityID = "candidate", "c-1"
	otherType.CreatedAt = otherType.CreatedAt.Add(time.Minute)

	for _, j := range []*job.Job{older, newest, otherType} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetJobByEntity(ctx, job.TypeResumeAnalysis, "candidate", "c-1")
	if err != nil {
		t.Fatalf("GetJobByEntity: %v", err)
	}
	if got.ID.String() != newest.ID.String() {
		t.Errorf("got %q, want newest %q", got.ID, newest.ID)
	}

	_, err = s.GetJobByEntity(ctx, job.TypeResumeAnalysis, "candidate", "c-2")
	if !errors.Is(err, asyncjob.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func testListByStatus(t *testing.T, s job.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var pending []*job.Job
	for i := range 4 {
		j := NewJob(job.TypePDFAnalysis, job.StatusPending)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		pending = append(pending, j)
	}
	other := NewJob(job.TypeBulkImport, job.StatusPending)
	other.CreatedAt = base.Add(time.Minute)
	done := NewJob(job.TypePDFAnalysis, job.StatusCompleted)

	for _, j := range append(pending, other, done) {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 pending jobs, got %d", len(all))
	}

	page, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{Type: job.TypePDFAnalysis, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].ID.String() != pending[1].ID.String() || page[1].ID.String() != pending[2].ID.String() {
		t.Errorf("page = [%s %s], want oldest-first offset 1", page[0].ID, page[1].ID)
	}
}

func testListTimedOut(t *testing.T, s job.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	expired := NewJob(job.TypePDFAnalysis, job.StatusProcessing)
	expired.TimeoutSeconds = 1
	startedExpired := now.Add(-2 * time.Second)
	expired.StartedAt = &startedExpired

	running := NewJob(job.TypePDFAnalysis, job.StatusProcessing)
	running.TimeoutSeconds = 60
	startedRunning := now.Add(-2 * time.Second)
	running.StartedAt = &startedRunning

	completed := NewJob(job.TypePDFAnalysis, job.StatusCompleted)
	completed.TimeoutSeconds = 1
	startedCompleted := now.Add(-2 * time.Second)
	finished := startedCompleted.Add(500 * time.Millisecond)
	completed.StartedAt = &startedCompleted
	completed.CompletedAt = &finished
	completed.Progress = 100
	completed.Results = json.RawMessage(`{}`)

	for _, j := range []*job.Job{expired, running, completed} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListTimedOutJobs(ctx, 0)
	if err != nil {
		t.Fatalf("ListTimedOutJobs: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != expired.ID.String() {
		t.Fatalf("expected only %s, got %v", expired.ID, ids(got))
	}
}

func testListStalePending(t *testing.T, s job.Store) {
	ctx := context.Background()

	stale := NewJob(job.TypePDFAnalysis, job.StatusPending)
	stale.TimeoutSeconds = 1
	stale.CreatedAt = time.Now().UTC().Add(-time.Minute)

	fresh := NewJob(job.TypePDFAnalysis, job.StatusPending)
	fresh.TimeoutSeconds = 1

	for _, j := range []*job.Job{stale, fresh} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListStalePendingJobs(ctx, 10*time.Second, 0)
	if err != nil {
		t.Fatalf("ListStalePendingJobs: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != stale.ID.String() {
		t.Fatalf("expected only %s, got %v", stale.ID, ids(got))
	}
}

func testDelete(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := NewJob(job.TypePDFAnalysis, job.StatusPending)
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, asyncjob.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound after delete, got %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, asyncjob.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound deleting twice, got %v", err)
	}
}

func testCount(t *testing.T, s job.Store) {
	ctx := context.Background()
	for _, j := range []*job.Job{
		NewJob(job.TypePDFAnalysis, job.StatusPending),
		NewJob(job.TypePDFAnalysis, job.StatusFailed),
		NewJob(job.TypeBulkImport, job.StatusFailed),
	} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 3},
		{"by status", job.CountOpts{Status: job.StatusFailed}, 2},
		{"by type and status", job.CountOpts{Type: job.TypeBulkImport, Status: job.StatusFailed}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.CountJobs(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.want {
				t.Errorf("CountJobs = %d, want %d", n, tt.want)
			}
		})
	}
}

func sameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Millisecond && d < time.Millisecond
}

func ids(jobs []*job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID.String()
	}
	return out
}

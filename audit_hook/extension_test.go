package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/asyncjob/audit_hook"
	"github.com/xraph/asyncjob/ext"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/orchestrator"
	"github.com/xraph/asyncjob/store/memory"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, evt := range m.events {
		out[i] = evt.Action
	}
	return out
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return &job.Job{
		ID:             id.NewJobID(),
		Type:           job.TypeResumeAnalysis,
		EntityType:     "candidate",
		EntityID:       "c-42",
		Status:         job.StatusProcessing,
		Progress:       60,
		TimeoutSeconds: 300,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_JobCreated(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobCreated {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCreated, evt.Action)
	}
	if evt.Resource != ah.ResourceJob || evt.Category != ah.CategoryJob {
		t.Errorf("Resource/Category: got %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", j.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["job_type"] != "resume_analysis" {
		t.Errorf("Metadata[job_type]: got %v", evt.Metadata["job_type"])
	}
	if evt.Metadata["entity_id"] != "c-42" || evt.Metadata["entity_type"] != "candidate" {
		t.Errorf("Metadata entity: got %v/%v", evt.Metadata["entity_type"], evt.Metadata["entity_id"])
	}
	if evt.Metadata["timeout_seconds"] != 300 {
		t.Errorf("Metadata[timeout_seconds]: got %v", evt.Metadata["timeout_seconds"])
	}
}

func TestExtension_UnlinkedJobHasNoEntityMetadata(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.EntityType, j.EntityID = "", ""

	_ = e.OnJobStarted(context.Background(), j)

	if _, ok := rec.last().Metadata["entity_id"]; ok {
		t.Error("unlinked job carried entity metadata")
	}
}

func TestExtension_JobProgressed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.Message = "scoring skills"

	if err := e.OnJobProgressed(context.Background(), j); err != nil {
		t.Fatalf("OnJobProgressed: %v", err)
	}

	evt := rec.last()
	if evt.Metadata["progress"] != 60 || evt.Metadata["message"] != "scoring skills" {
		t.Errorf("Metadata: got %v", evt.Metadata)
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	elapsed := 150 * time.Millisecond

	if err := e.OnJobCompleted(context.Background(), newTestJob(), elapsed); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCompleted, evt.Action)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.Status = job.StatusFailed
	j.ErrorMessage = "pdf is encrypted"

	if err := e.OnJobFailed(context.Background(), j); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "pdf is encrypted" {
		t.Errorf("Reason: want %q, got %q", "pdf is encrypted", evt.Reason)
	}
}

func TestExtension_JobTimedOut(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()
	j.Status = job.StatusTimeout
	j.ErrorMessage = "job exceeded timeout of 300 seconds"

	if err := e.OnJobTimedOut(context.Background(), j); err != nil {
		t.Fatalf("OnJobTimedOut: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobTimedOut || evt.Severity != ah.SeverityWarning {
		t.Errorf("Action/Severity: got %q/%q", evt.Action, evt.Severity)
	}
	if evt.Reason != j.ErrorMessage {
		t.Errorf("Reason: got %q", evt.Reason)
	}
}

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.TerminalActions()...))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobCreated(ctx, j)
	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobProgressed(ctx, j)
	_ = e.OnJobFailed(ctx, j)

	got := rec.actions()
	if len(got) != 1 || got[0] != ah.ActionJobFailed {
		t.Errorf("recorded %v, want only %q", got, ah.ActionJobFailed)
	}
}

func TestRecorderFunc(t *testing.T) {
	var called bool
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		called = true
		if evt.Action != ah.ActionJobStarted {
			t.Errorf("Action: got %q", evt.Action)
		}
		return nil
	})

	_ = ah.New(fn).OnJobStarted(context.Background(), newTestJob())
	if !called {
		t.Error("RecorderFunc was not called")
	}
}

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	fn := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})
	e := ah.New(fn, ah.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	if err := e.OnJobFailed(context.Background(), newTestJob()); err != nil {
		t.Errorf("recorder error propagated: %v", err)
	}
}

func TestExtension_ViaOrchestrator(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	orch, err := orchestrator.New(memory.New(), orchestrator.WithExtensions(reg))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	jobID, err := orch.Create(ctx, job.TypeBulkImport)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.StartProcessing(ctx, jobID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.UpdateProgress(ctx, jobID, 30, "rows 300/1000"); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Complete(ctx, jobID, map[string]int{"rows": 1000}); err != nil {
		t.Fatal(err)
	}

	want := []string{ah.ActionJobCreated, ah.ActionJobStarted, ah.ActionJobProgressed, ah.ActionJobCompleted}
	if got := rec.actions(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("actions = %v, want %v", got, want)
	}
}

func TestSlogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := ah.New(ah.NewSlogRecorder(logger))

	j := newTestJob()
	j.ErrorMessage = "worker crashed"
	_ = e.OnJobFailed(context.Background(), j)

	out := buf.String()
	for _, want := range []string{`"level":"ERROR"`, `"action":"job.failed"`, `"reason":"worker crashed"`, j.ID.String()} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestAllActions(t *testing.T) {
	if n := len(ah.AllActions()); n != 6 {
		t.Errorf("AllActions: want 6, got %d", n)
	}
}

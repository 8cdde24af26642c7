package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/asyncjob/ext"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobCreated(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCreated")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobProgressed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobProgressed")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobTimedOut(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobTimedOut")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// completedOnly opts in to a single hook.
type completedOnly struct{ n int }

func (e *completedOnly) Name() string { return "completed-only" }

func (e *completedOnly) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.n++
	return nil
}

// failingExt returns an error from its hook.
type failingExt struct{}

func (failingExt) Name() string { return "failing" }

func (failingExt) OnJobFailed(_ context.Context, _ *job.Job) error {
	return errors.New("webhook unreachable")
}

func TestRegistry_EmitsAllHooks(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	e := &allHooksExt{}
	r.Register(e)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID()}

	r.EmitJobCreated(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobProgressed(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j)
	r.EmitJobTimedOut(ctx, j)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobCreated", "OnJobStarted", "OnJobProgressed", "OnJobCompleted",
		"OnJobFailed", "OnJobTimedOut", "OnShutdown",
	}
	if len(e.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", e.calls, want)
	}
	for i := range want {
		if e.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, e.calls[i], want[i])
		}
	}
}

func TestRegistry_OptIn(t *testing.T) {
	r := ext.NewRegistry(nil)
	c := &completedOnly{}
	r.Register(c)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID()}
	r.EmitJobStarted(ctx, j)
	r.EmitJobFailed(ctx, j)
	r.EmitJobCompleted(ctx, j, 0)

	if c.n != 1 {
		t.Errorf("OnJobCompleted called %d times, want 1", c.n)
	}
	if got := len(r.Extensions()); got != 1 {
		t.Errorf("Extensions() len = %d, want 1", got)
	}
}

func TestRegistry_HookErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := ext.NewRegistry(logger)
	r.Register(failingExt{})
	after := &allHooksExt{}
	r.Register(after)

	r.EmitJobFailed(context.Background(), &job.Job{ID: id.NewJobID()})

	if !strings.Contains(buf.String(), "webhook unreachable") {
		t.Errorf("expected hook error in log, got %q", buf.String())
	}
	if len(after.calls) != 1 {
		t.Errorf("later extension not notified after earlier hook error")
	}
}

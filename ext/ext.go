package ext

import (
	"context"
	"time"

	"github.com/xraph/asyncjob/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a pending job record is persisted.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a job enters processing.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgressed is called after a progress update is applied.
type JobProgressed interface {
	OnJobProgressed(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job completes. elapsed is measured from
// StartedAt.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called after a job is marked failed.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job) error
}

// JobTimedOut is called after a job is marked timed out.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

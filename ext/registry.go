package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/asyncjob/job"
)

// entry pairs a hook with the extension name captured at registration.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Hooks are type-cached at registration so emit calls only visit
// extensions implementing the relevant interface. Hook errors are logged,
// never returned: an extension cannot fail a lifecycle transition.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobCreated    []entry[JobCreated]
	jobStarted    []entry[JobStarted]
	jobProgressed []entry[JobProgressed]
	jobCompleted  []entry[JobCompleted]
	jobFailed     []entry[JobFailed]
	jobTimedOut   []entry[JobTimedOut]
	shutdown      []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobCreated); ok {
		r.jobCreated = append(r.jobCreated, entry[JobCreated]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobProgressed); ok {
		r.jobProgressed = append(r.jobProgressed, entry[JobProgressed]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobTimedOut); ok {
		r.jobTimedOut = append(r.jobTimedOut, entry[JobTimedOut]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitJobCreated notifies extensions implementing JobCreated.
func (r *Registry) EmitJobCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCreated {
		r.check("OnJobCreated", e.name, e.hook.OnJobCreated(ctx, j))
	}
}

// EmitJobStarted notifies extensions implementing JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobProgressed notifies extensions implementing JobProgressed.
func (r *Registry) EmitJobProgressed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobProgressed {
		r.check("OnJobProgressed", e.name, e.hook.OnJobProgressed(ctx, j))
	}
}

// EmitJobCompleted notifies extensions implementing JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobFailed notifies extensions implementing JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j))
	}
}

// EmitJobTimedOut notifies extensions implementing JobTimedOut.
func (r *Registry) EmitJobTimedOut(ctx context.Context, j *job.Job) {
	for _, e := range r.jobTimedOut {
		r.check("OnJobTimedOut", e.name, e.hook.OnJobTimedOut(ctx, j))
	}
}

// EmitShutdown notifies extensions implementing Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

func (r *Registry) check(hook, ext string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", ext),
		slog.String("error", err.Error()),
	)
}

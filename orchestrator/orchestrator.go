package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/ext"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

// DefaultFailureMessage is recorded when Fail is called without a message.
const DefaultFailureMessage = "job failed without an error message"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithExtensions sets the extension registry notified after every applied
// transition.
func WithExtensions(r *ext.Registry) Option {
	return func(o *Orchestrator) { o.extensions = r }
}

// WithClock replaces time.Now for timestamps written to job records.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithPolicies sets the resolver for per-type defaults used by Create.
// It defaults to job.PolicyFor.
func WithPolicies(resolve func(job.Type) job.Policy) Option {
	return func(o *Orchestrator) { o.policy = resolve }
}

// WithConflictRetries sets how many times a write that lost a status race
// is re-evaluated before giving up with asyncjob.ErrStatusConflict.
func WithConflictRetries(n int) Option {
	return func(o *Orchestrator) { o.conflictRetries = n }
}

// Orchestrator creates job records and applies lifecycle transitions.
// It is safe for concurrent use.
type Orchestrator struct {
	store           job.Store
	extensions      *ext.Registry
	logger          *slog.Logger
	now             func() time.Time
	policy          func(job.Type) job.Policy
	conflictRetries int
}

// New creates an Orchestrator backed by store.
func New(store job.Store, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, asyncjob.ErrNoStore
	}
	o := &Orchestrator{
		store:           store,
		logger:          slog.Default(),
		now:             time.Now,
		policy:          job.PolicyFor,
		conflictRetries: 5,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.extensions == nil {
		o.extensions = ext.NewRegistry(o.logger)
	}
	return o, nil
}

// Store returns the underlying job store.
func (o *Orchestrator) Store() job.Store { return o.store }

// ──────────────────────────────────────────────────
// Creation
// ──────────────────────────────────────────────────

// Create persists a new pending job and returns its ID. The timeout
// defaults to the type's policy; a non-positive timeout is rejected with
// asyncjob.ErrInvalidTimeout.
func (o *Orchestrator) Create(ctx context.Context, t job.Type, opts ...job.Option) (id.JobID, error) {
	if t == "" {
		return id.Nil, asyncjob.ErrInvalidJobType
	}

	co := job.NewCreateOptions(opts...)
	timeout := o.policy(t).Timeout
	if co.TimeoutSet() {
		timeout = co.Timeout
	}
	seconds := int(timeout / time.Second)
	if seconds <= 0 {
		return id.Nil, fmt.Errorf("%w: got %s", asyncjob.ErrInvalidTimeout, timeout)
	}

	now := o.now().UTC()
	j := &job.Job{
		Entity:         asyncjob.Entity{CreatedAt: now, UpdatedAt: now},
		ID:             id.NewJobID(),
		Type:           t,
		EntityType:     co.EntityType,
		EntityID:       co.EntityID,
		Status:         job.StatusPending,
		Metadata:       co.Metadata,
		TimeoutSeconds: seconds,
	}
	if err := o.store.SaveJob(ctx, j); err != nil {
		return id.Nil, fmt.Errorf("orchestrator: create %s: %w", t, err)
	}

	o.logger.Info("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("type", string(t)),
		slog.Int("timeout_seconds", seconds),
	)
	o.extensions.EmitJobCreated(ctx, j)
	return j.ID, nil
}

// CreateForEntity returns the ID of the entity's live (non-terminal) job of
// type t if there is one, otherwise creates a new job linked to the entity.
// created reports which of the two happened.
func (o *Orchestrator) CreateForEntity(ctx context.Context, t job.Type, entityType, entityID string, opts ...job.Option) (jobID id.JobID, created bool, err error) {
	existing, err := o.store.GetJobByEntity(ctx, t, entityType, entityID)
	switch {
	case err == nil && !existing.Status.IsTerminal():
		return existing.ID, false, nil
	case err != nil && !errors.Is(err, asyncjob.ErrJobNotFound):
		return id.Nil, false, fmt.Errorf("orchestrator: lookup %s/%s: %w", entityType, entityID, err)
	}

	opts = append(opts, job.WithEntity(entityType, entityID))
	jobID, err = o.Create(ctx, t, opts...)
	if err != nil {
		return id.Nil, false, err
	}
	return jobID, true, nil
}

// ──────────────────────────────────────────────────
// Lifecycle transitions
// ──────────────────────────────────────────────────

// StartProcessing moves the job to processing. StartedAt is set on the
// first entry only. Re-entering processing keeps the reported progress
// and only replaces the message.
func (o *Orchestrator) StartProcessing(ctx context.Context, jobID id.JobID, message string) (Outcome, error) {
	return o.start(ctx, jobID, message, false)
}

// RestartProcessing is StartProcessing for a redelivered attempt: the
// progress of the previous attempt is cleared so the new one reports from
// zero. StartedAt still keeps the first entry, so retries do not extend
// the job's budget.
func (o *Orchestrator) RestartProcessing(ctx context.Context, jobID id.JobID, message string) (Outcome, error) {
	return o.start(ctx, jobID, message, true)
}

func (o *Orchestrator) start(ctx context.Context, jobID id.JobID, message string, reset bool) (Outcome, error) {
	outcome, j, err := o.mutate(ctx, jobID, "start", func(j *job.Job, now time.Time) error {
		if !job.CanTransition(j.Status, job.StatusProcessing) {
			return transitionError(j.Status, job.StatusProcessing)
		}
		j.Status = job.StatusProcessing
		if reset {
			j.Progress = 0
		}
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		if message != "" {
			j.Message = message
		}
		return nil
	})
	if outcome == Applied {
		o.extensions.EmitJobStarted(ctx, j)
	}
	return outcome, err
}

// UpdateProgress records progress in [0, 100]. A pending job is moved to
// processing. Progress never decreases until RestartProcessing begins a
// new attempt; lower values only update the message. Updates to a finished job are
// dropped with AlreadyTerminal.
func (o *Orchestrator) UpdateProgress(ctx context.Context, jobID id.JobID, progress int, message string) (Outcome, error) {
	if progress < 0 || progress > 100 {
		return "", fmt.Errorf("%w: got %d", asyncjob.ErrInvalidProgress, progress)
	}

	outcome, j, err := o.mutate(ctx, jobID, "progress", func(j *job.Job, now time.Time) error {
		if j.Status == job.StatusPending {
			j.Status = job.StatusProcessing
			j.StartedAt = &now
		}
		j.Progress = max(j.Progress, progress)
		if message != "" {
			j.Message = message
		}
		return nil
	})
	if outcome == Applied {
		o.extensions.EmitJobProgressed(ctx, j)
	}
	return outcome, err
}

// Complete marks the job completed with progress 100. results is encoded
// as JSON; nil is stored as an empty object. A pending job cannot be
// completed and yields Rejected.
func (o *Orchestrator) Complete(ctx context.Context, jobID id.JobID, results any) (Outcome, error) {
	raw, err := encodeResults(results)
	if err != nil {
		return "", fmt.Errorf("orchestrator: complete %s: %w", jobID, err)
	}

	outcome, j, err := o.mutate(ctx, jobID, "complete", func(j *job.Job, now time.Time) error {
		if !job.CanTransition(j.Status, job.StatusCompleted) {
			return transitionError(j.Status, job.StatusCompleted)
		}
		j.Status = job.StatusCompleted
		j.Progress = 100
		j.CompletedAt = &now
		j.Results = raw
		j.ErrorMessage = ""
		return nil
	})
	if outcome == Applied {
		var elapsed time.Duration
		if j.StartedAt != nil {
			elapsed = j.CompletedAt.Sub(*j.StartedAt)
		}
		o.logger.Info("job completed",
			slog.String("job_id", j.ID.String()),
			slog.Duration("elapsed", elapsed),
		)
		o.extensions.EmitJobCompleted(ctx, j, elapsed)
	}
	return outcome, err
}

// Fail marks the job failed with errorMessage.
func (o *Orchestrator) Fail(ctx context.Context, jobID id.JobID, errorMessage string) (Outcome, error) {
	if errorMessage == "" {
		errorMessage = DefaultFailureMessage
	}
	outcome, j, err := o.mutate(ctx, jobID, "fail", func(j *job.Job, now time.Time) error {
		return applyFailure(j, job.StatusFailed, now, errorMessage)
	})
	if outcome == Applied {
		o.logger.Info("job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", errorMessage),
		)
		o.extensions.EmitJobFailed(ctx, j)
	}
	return outcome, err
}

// Timeout marks the job timed out with a message naming its budget.
func (o *Orchestrator) Timeout(ctx context.Context, jobID id.JobID) (Outcome, error) {
	return o.timeout(ctx, jobID, nil)
}

// TimeoutIfStatus is Timeout guarded by the status the caller observed.
// If the job has since moved to another non-terminal status the call is
// Rejected with asyncjob.ErrStatusConflict and nothing is written. Sweeps
// use it so a job picked up between listing and writing is left alone.
func (o *Orchestrator) TimeoutIfStatus(ctx context.Context, jobID id.JobID, expected job.Status) (Outcome, error) {
	return o.timeout(ctx, jobID, func(j *job.Job) error {
		if j.Status != expected {
			return fmt.Errorf("%w: job is %s, expected %s", asyncjob.ErrStatusConflict, j.Status, expected)
		}
		return nil
	})
}

func (o *Orchestrator) timeout(ctx context.Context, jobID id.JobID, guard func(*job.Job) error) (Outcome, error) {
	outcome, j, err := o.mutate(ctx, jobID, "timeout", func(j *job.Job, now time.Time) error {
		if guard != nil {
			if err := guard(j); err != nil {
				return err
			}
		}
		return applyFailure(j, job.StatusTimeout, now,
			fmt.Sprintf("job exceeded its timeout of %d seconds", j.TimeoutSeconds))
	})
	if outcome == Applied {
		o.extensions.EmitJobTimedOut(ctx, j)
	}
	return outcome, err
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Get returns the full job record.
func (o *Orchestrator) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// GetStatus returns the polling view of the job, including an estimate of
// the remaining time while it is processing.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID id.JobID) (*job.StatusView, error) {
	j, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.NewStatusView(j, o.now()), nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

// applyFailure moves j into a failure-style terminal status.
func applyFailure(j *job.Job, to job.Status, now time.Time, message string) error {
	if !job.CanTransition(j.Status, to) {
		return transitionError(j.Status, to)
	}
	j.Status = to
	j.CompletedAt = &now
	j.ErrorMessage = message
	j.Results = nil
	return nil
}

// mutate loads the job, lets apply modify it and writes it back guarded by
// the status that was loaded. A lost status race is re-evaluated against
// the fresh record, so a concurrent terminal transition turns into
// AlreadyTerminal.
func (o *Orchestrator) mutate(ctx context.Context, jobID id.JobID, op string, apply func(j *job.Job, now time.Time) error) (Outcome, *job.Job, error) {
	for attempt := 0; ; attempt++ {
		j, err := o.store.GetJob(ctx, jobID)
		if errors.Is(err, asyncjob.ErrJobNotFound) {
			return NotFound, nil, err
		}
		if err != nil {
			return "", nil, fmt.Errorf("orchestrator: %s %s: %w", op, jobID, err)
		}

		if j.Status.IsTerminal() {
			o.logger.Info("job already finished",
				slog.String("op", op),
				slog.String("job_id", jobID.String()),
				slog.String("status", string(j.Status)),
			)
			return AlreadyTerminal, j, nil
		}

		expected := j.Status
		now := o.now().UTC()
		if err := apply(j, now); err != nil {
			o.logger.Warn("job transition rejected",
				slog.String("op", op),
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
			return Rejected, j, err
		}
		j.Touch(now)

		err = o.store.UpdateJob(ctx, j, expected)
		switch {
		case err == nil:
			return Applied, j, nil
		case errors.Is(err, asyncjob.ErrStatusConflict) && attempt < o.conflictRetries:
			o.logger.Debug("job status moved, re-evaluating",
				slog.String("op", op),
				slog.String("job_id", jobID.String()),
			)
			continue
		case errors.Is(err, asyncjob.ErrJobNotFound):
			return NotFound, nil, err
		default:
			return "", nil, fmt.Errorf("orchestrator: %s %s: %w", op, jobID, err)
		}
	}
}

func transitionError(from, to job.Status) error {
	return fmt.Errorf("%w: %s -> %s", asyncjob.ErrInvalidTransition, from, to)
}

// encodeResults turns results into the JSON stored on the record. Empty or
// null results become {} so a completed job always carries results.
func encodeResults(results any) (json.RawMessage, error) {
	var raw []byte
	switch v := results.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode results: %w", err)
		}
		raw = b
	}

	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("results are not valid JSON")
	}
	return append(json.RawMessage(nil), raw...), nil
}

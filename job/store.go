package job

import (
	"context"
	"time"

	"github.com/xraph/asyncjob/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Type filters by job type. Empty means all types.
	Type Type
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Type filters by job type. Empty means all types.
	Type Type
	// Status filters by status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for job records. Implementations
// never enforce the state machine; they guarantee single-record atomicity
// and linearizable writes per job ID.
type Store interface {
	// SaveJob upserts j by ID.
	SaveJob(ctx context.Context, j *Job) error

	// UpdateJob overwrites the persisted record only if its status still
	// equals expected. It returns asyncjob.ErrStatusConflict when the
	// status moved and asyncjob.ErrJobNotFound when the record is gone.
	UpdateJob(ctx context.Context, j *Job, expected Status) error

	// GetJob returns the job with the given ID or asyncjob.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetJobByEntity returns the most recently created job of type t for
	// the given entity, or asyncjob.ErrJobNotFound.
	GetJobByEntity(ctx context.Context, t Type, entityType, entityID string) (*Job, error)

	// ListJobsByStatus returns jobs in the given status, oldest first.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// ListTimedOutJobs returns processing jobs whose started_at plus
	// timeout_seconds lies in the past according to the store's clock.
	// Zero limit means no limit.
	ListTimedOutJobs(ctx context.Context, limit int) ([]*Job, error)

	// ListStalePendingJobs returns pending jobs whose created_at plus
	// timeout_seconds plus grace lies in the past according to the store's
	// clock. Zero limit means no limit.
	ListStalePendingJobs(ctx context.Context, grace time.Duration, limit int) ([]*Job, error)

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}

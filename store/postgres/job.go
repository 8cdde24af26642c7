package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

const jobColumns = `
	id, job_type, entity_type, entity_id, status, progress, message,
	started_at, completed_at, results, error_message, metadata,
	timeout_seconds, created_at, updated_at`

// SaveJob upserts a job by ID.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	meta, err := encodeMetadata(j.Metadata)
	if err != nil {
		return fmt.Errorf("asyncjob/postgres: encode metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO asyncjob_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			job_type        = EXCLUDED.job_type,
			entity_type     = EXCLUDED.entity_type,
			entity_id       = EXCLUDED.entity_id,
			status          = EXCLUDED.status,
			progress        = EXCLUDED.progress,
			message         = EXCLUDED.message,
			started_at      = EXCLUDED.started_at,
			completed_at    = EXCLUDED.completed_at,
			results         = EXCLUDED.results,
			error_message   = EXCLUDED.error_message,
			metadata        = EXCLUDED.metadata,
			timeout_seconds = EXCLUDED.timeout_seconds,
			created_at      = EXCLUDED.created_at,
			updated_at      = EXCLUDED.updated_at`,
		j.ID.String(), string(j.Type), j.EntityType, j.EntityID,
		string(j.Status), j.Progress, j.Message,
		j.StartedAt, j.CompletedAt, nullableJSON(j.Results), j.ErrorMessage, meta,
		j.TimeoutSeconds, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("asyncjob/postgres: save job: %w", err)
	}
	return nil
}

// UpdateJob overwrites a job only while its persisted status equals
// expected.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job, expected job.Status) error {
	meta, err := encodeMetadata(j.Metadata)
	if err != nil {
		return fmt.Errorf("asyncjob/postgres: encode metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE asyncjob_jobs SET
			status = $2, progress = $3, message = $4,
			started_at = $5, completed_at = $6, results = $7,
			error_message = $8, metadata = $9, updated_at = $10
		WHERE id = $1 AND status = $11`,
		j.ID.String(), string(j.Status), j.Progress, j.Message,
		j.StartedAt, j.CompletedAt, nullableJSON(j.Results),
		j.ErrorMessage, meta, j.UpdatedAt,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("asyncjob/postgres: update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM asyncjob_jobs WHERE id = $1)`,
		j.ID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("asyncjob/postgres: update job: %w", err)
	}
	if !exists {
		return asyncjob.ErrJobNotFound
	}
	return asyncjob.ErrStatusConflict
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM asyncjob_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, asyncjob.ErrJobNotFound
		}
		return nil, fmt.Errorf("asyncjob/postgres: get job: %w", err)
	}
	return j, nil
}

// GetJobByEntity returns the newest job of type t for an entity.
func (s *Store) GetJobByEntity(ctx context.Context, t job.Type, entityType, entityID string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM asyncjob_jobs
		WHERE job_type = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		string(t), entityType, entityID,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, asyncjob.ErrJobNotFound
		}
		return nil, fmt.Errorf("asyncjob/postgres: get job by entity: %w", err)
	}
	return j, nil
}

// ListJobsByStatus returns jobs in the given status, oldest first.
// LIMIT NULL is unbounded in PostgreSQL, so a zero limit maps to NULL.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM asyncjob_jobs
		WHERE status = $1 AND ($2::text = '' OR job_type = $2)
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($3::int, 0) OFFSET $4`,
		string(status), string(opts.Type), opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/postgres: list jobs by status: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListTimedOutJobs returns processing jobs past their deadline by the
// database clock.
func (s *Store) ListTimedOutJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM asyncjob_jobs
		WHERE status = 'processing'
		  AND started_at IS NOT NULL
		  AND started_at + make_interval(secs => timeout_seconds) <= NOW()
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($1::int, 0)`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/postgres: list timed out jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListStalePendingJobs returns pending jobs older than their timeout plus
// grace by the database clock.
func (s *Store) ListStalePendingJobs(ctx context.Context, grace time.Duration, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM asyncjob_jobs
		WHERE status = 'pending'
		  AND created_at + make_interval(secs => timeout_seconds + $1::double precision) <= NOW()
		ORDER BY created_at ASC, id ASC
		LIMIT NULLIF($2::int, 0)`,
		grace.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/postgres: list stale pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM asyncjob_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("asyncjob/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return asyncjob.ErrJobNotFound
	}
	return nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var (
		conds []string
		args  []any
	)
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		conds = append(conds, fmt.Sprintf("job_type = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT COUNT(*) FROM asyncjob_jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("asyncjob/postgres: count jobs: %w", err)
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Scan helpers
// ──────────────────────────────────────────────────

// scanJob scans a single row into a job.Job.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		typeStr   string
		statusStr string
		results   []byte
		meta      []byte
	)
	err := row.Scan(
		&idStr, &typeStr, &j.EntityType, &j.EntityID, &statusStr,
		&j.Progress, &j.Message,
		&j.StartedAt, &j.CompletedAt, &results, &j.ErrorMessage, &meta,
		&j.TimeoutSeconds, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.Type = job.Type(typeStr)
	j.Status = job.Status(statusStr)
	if len(results) > 0 {
		j.Results = results
	}
	if j.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, fmt.Errorf("asyncjob/postgres: decode metadata: %w", err)
	}

	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.StartedAt = utcPtr(j.StartedAt)
	j.CompletedAt = utcPtr(j.CompletedAt)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("asyncjob/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("asyncjob/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

const jobColumns = `
	id, job_type, entity_type, entity_id, status, progress, message,
	started_at, completed_at, results, error_message, metadata,
	timeout_seconds, created_at, updated_at`

// timeLayout is fixed width so TEXT comparison orders chronologically, and
// julianday() accepts it.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SaveJob upserts a job by ID.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	meta, err := encodeMetadata(j.Metadata)
	if err != nil {
		return fmt.Errorf("asyncjob/sqlite: encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO asyncjob_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			job_type        = excluded.job_type,
			entity_type     = excluded.entity_type,
			entity_id       = excluded.entity_id,
			status          = excluded.status,
			progress        = excluded.progress,
			message         = excluded.message,
			started_at      = excluded.started_at,
			completed_at    = excluded.completed_at,
			results         = excluded.results,
			error_message   = excluded.error_message,
			metadata        = excluded.metadata,
			timeout_seconds = excluded.timeout_seconds,
			created_at      = excluded.created_at,
			updated_at      = excluded.updated_at`,
		j.ID.String(), string(j.Type), j.EntityType, j.EntityID,
		string(j.Status), j.Progress, j.Message,
		nullableTime(j.StartedAt), nullableTime(j.CompletedAt), nullableJSON(j.Results),
		j.ErrorMessage, meta, j.TimeoutSeconds,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("asyncjob/sqlite: save job: %w", err)
	}
	return nil
}

// UpdateJob overwrites a job only while its persisted status equals
// expected.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job, expected job.Status) error {
	meta, err := encodeMetadata(j.Metadata)
	if err != nil {
		return fmt.Errorf("asyncjob/sqlite: encode metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE asyncjob_jobs SET
			status = ?, progress = ?, message = ?,
			started_at = ?, completed_at = ?, results = ?,
			error_message = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(j.Status), j.Progress, j.Message,
		nullableTime(j.StartedAt), nullableTime(j.CompletedAt), nullableJSON(j.Results),
		j.ErrorMessage, meta, formatTime(j.UpdatedAt),
		j.ID.String(), string(expected),
	)
	if err != nil {
		return fmt.Errorf("asyncjob/sqlite: update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("asyncjob/sqlite: update job: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM asyncjob_jobs WHERE id = ?)`,
		j.ID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("asyncjob/sqlite: update job: %w", err)
	}
	if !exists {
		return asyncjob.ErrJobNotFound
	}
	return asyncjob.ErrStatusConflict
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM asyncjob_jobs WHERE id = ?`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, asyncjob.ErrJobNotFound
		}
		return nil, fmt.Errorf("asyncjob/sqlite: get job: %w", err)
	}
	return j, nil
}

// GetJobByEntity returns the newest job of type t for an entity.
func (s *Store) GetJobByEntity(ctx context.Context, t job.Type, entityType, entityID string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM asyncjob_jobs
		WHERE job_type = ? AND entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		string(t), entityType, entityID,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, asyncjob.ErrJobNotFound
		}
		return nil, fmt.Errorf("asyncjob/sqlite: get job by entity: %w", err)
	}
	return j, nil
}

// ListJobsByStatus returns jobs in the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM asyncjob_jobs
		WHERE status = ? AND (? = '' OR job_type = ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`,
		string(status), string(opts.Type), string(opts.Type),
		sqlLimit(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: list jobs by status: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListTimedOutJobs returns processing jobs past their deadline by the
// database clock.
func (s *Store) ListTimedOutJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM asyncjob_jobs
		WHERE status = 'processing'
		  AND started_at IS NOT NULL
		  AND julianday(started_at) + timeout_seconds / 86400.0 <= julianday('now')
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: list timed out jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListStalePendingJobs returns pending jobs older than their timeout plus
// grace by the database clock.
func (s *Store) ListStalePendingJobs(ctx context.Context, grace time.Duration, limit int) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM asyncjob_jobs
		WHERE status = 'pending'
		  AND julianday(created_at) + (timeout_seconds + ?) / 86400.0 <= julianday('now')
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		grace.Seconds(), sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: list stale pending jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM asyncjob_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("asyncjob/sqlite: delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("asyncjob/sqlite: delete job: %w", err)
	}
	if n == 0 {
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
		conds = append(conds, "job_type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := `SELECT COUNT(*) FROM asyncjob_jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("asyncjob/sqlite: count jobs: %w", err)
	}
	return n, nil
}

// ── helpers ──────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                      job.Job
		idStr, typeStr         string
		statusStr              string
		started, completed     sql.NullString
		results, meta          sql.NullString
		createdStr, updatedStr string
	)
	err := row.Scan(
		&idStr, &typeStr, &j.EntityType, &j.EntityID, &statusStr,
		&j.Progress, &j.Message,
		&started, &completed, &results, &j.ErrorMessage, &meta,
		&j.TimeoutSeconds, &createdStr, &updatedStr,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(idStr); err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: parse job id %q: %w", idStr, err)
	}
	j.Type = job.Type(typeStr)
	j.Status = job.Status(statusStr)

	if j.CreatedAt, err = time.Parse(timeLayout, createdStr); err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: parse created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(timeLayout, updatedStr); err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: parse updated_at: %w", err)
	}
	if j.StartedAt, err = parseNullableTime(started); err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: parse started_at: %w", err)
	}
	if j.CompletedAt, err = parseNullableTime(completed); err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: parse completed_at: %w", err)
	}

	if results.Valid && results.String != "" {
		j.Results = json.RawMessage(results.String)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &j.Metadata); err != nil {
			return nil, fmt.Errorf("asyncjob/sqlite: decode metadata: %w", err)
		}
	}
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("asyncjob/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("asyncjob/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// sqlLimit maps the zero "no limit" value to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

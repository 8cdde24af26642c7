package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

// writeJob replaces a job Hash and moves its index entries. With a
// non-empty expected status it returns 0 when the job is missing and -1
// when the status moved, without writing anything.
var writeJob = goredis.NewScript(`
local key = KEYS[1]
local expected, prefix, id = ARGV[1], ARGV[2], ARGV[3]
local status, jtype, etype, eid = ARGV[4], ARGV[5], ARGV[6], ARGV[7]

local old = redis.call('HMGET', key, 'status', 'type', 'entity_type', 'entity_id')
if expected ~= '' then
  if not old[1] then return 0 end
  if old[1] ~= expected then return -1 end
end

if old[1] then
  redis.call('ZREM', prefix .. 'status:' .. old[1], id)
  redis.call('ZREM', prefix .. 'status:' .. old[1] .. ':type:' .. old[2], id)
  if old[3] ~= '' and old[4] ~= '' then
    redis.call('ZREM', prefix .. 'entity:' .. old[2] .. ':' .. old[3] .. ':' .. old[4], id)
  end
end
redis.call('ZREM', prefix .. 'deadlines', id)
redis.call('ZREM', prefix .. 'pending_expiry', id)

redis.call('DEL', key)
redis.call('HSET', key, unpack(ARGV, 11))

redis.call('ZADD', prefix .. 'status:' .. status, ARGV[8], id)
redis.call('ZADD', prefix .. 'status:' .. status .. ':type:' .. jtype, ARGV[8], id)
if etype ~= '' and eid ~= '' then
  redis.call('ZADD', prefix .. 'entity:' .. jtype .. ':' .. etype .. ':' .. eid, ARGV[8], id)
end
if status == 'processing' and ARGV[9] ~= '' then
  redis.call('ZADD', prefix .. 'deadlines', ARGV[9], id)
end
if status == 'pending' then
  redis.call('ZADD', prefix .. 'pending_expiry', ARGV[10], id)
end
return 1
`)

// deleteJob removes a job Hash and its index entries. It returns 0 when
// the job does not exist.
var deleteJob = goredis.NewScript(`
local key = KEYS[1]
local prefix, id = ARGV[1], ARGV[2]

local old = redis.call('HMGET', key, 'status', 'type', 'entity_type', 'entity_id')
if not old[1] then return 0 end

redis.call('ZREM', prefix .. 'status:' .. old[1], id)
redis.call('ZREM', prefix .. 'status:' .. old[1] .. ':type:' .. old[2], id)
if old[3] ~= '' and old[4] ~= '' then
  redis.call('ZREM', prefix .. 'entity:' .. old[2] .. ':' .. old[3] .. ':' .. old[4], id)
end
redis.call('ZREM', prefix .. 'deadlines', id)
redis.call('ZREM', prefix .. 'pending_expiry', id)
redis.call('DEL', key)
return 1
`)

var allStatuses = []job.Status{
	job.StatusPending,
	job.StatusProcessing,
	job.StatusCompleted,
	job.StatusFailed,
	job.StatusTimeout,
}

// SaveJob upserts a job by ID.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	if _, err := s.write(ctx, j, ""); err != nil {
		return fmt.Errorf("asyncjob/redis: save job: %w", err)
	}
	return nil
}

// UpdateJob overwrites a job only while its persisted status equals
// expected.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job, expected job.Status) error {
	res, err := s.write(ctx, j, expected)
	if err != nil {
		return fmt.Errorf("asyncjob/redis: update job: %w", err)
	}
	switch res {
	case 0:
		return asyncjob.ErrJobNotFound
	case -1:
		return asyncjob.ErrStatusConflict
	default:
		return nil
	}
}

func (s *Store) write(ctx context.Context, j *job.Job, expected job.Status) (int64, error) {
	fields, err := jobToFields(j)
	if err != nil {
		return 0, err
	}

	jID := j.ID.String()
	deadline := ""
	if d, ok := j.Deadline(); ok {
		deadline = strconv.FormatInt(d.UnixMilli(), 10)
	}
	pendingExpiry := j.CreatedAt.Add(j.Timeout()).UnixMilli()

	args := make([]any, 0, 10+len(fields))
	args = append(args,
		string(expected), indexPrefix, jID,
		string(j.Status), string(j.Type), j.EntityType, j.EntityID,
		strconv.FormatInt(j.CreatedAt.UnixMicro(), 10),
		deadline,
		strconv.FormatInt(pendingExpiry, 10),
	)
	args = append(args, fields...)

	return writeJob.Run(ctx, s.client, []string{jobKey(jID)}, args...).Int64()
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, asyncjob.ErrJobNotFound
	}
	return fieldsToJob(vals)
}

// GetJobByEntity returns the newest job of type t for an entity.
func (s *Store) GetJobByEntity(ctx context.Context, t job.Type, entityType, entityID string) (*job.Job, error) {
	ids, err := s.client.ZRevRange(ctx, entityKey(string(t), entityType, entityID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: get job by entity: %w", err)
	}
	if len(ids) == 0 {
		return nil, asyncjob.ErrJobNotFound
	}
	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: get job by entity: %w", err)
	}
	if len(jobs) == 0 {
		return nil, asyncjob.ErrJobNotFound
	}
	return jobs[0], nil
}

// ListJobsByStatus returns jobs in the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	key := statusKey(string(status))
	if opts.Type != "" {
		key = statusTypeKey(string(status), string(opts.Type))
	}

	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}

	ids, err := s.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: list jobs by status: %w", err)
	}
	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: list jobs by status: %w", err)
	}
	return jobs, nil
}

// ListTimedOutJobs returns processing jobs past their deadline by the
// server clock.
func (s *Store) ListTimedOutJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: server time: %w", err)
	}
	jobs, err := s.dueJobs(ctx, deadlinesKey, now.UnixMilli(), job.StatusProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: list timed out jobs: %w", err)
	}
	return jobs, nil
}

// ListStalePendingJobs returns pending jobs older than their timeout plus
// grace by the server clock.
func (s *Store) ListStalePendingJobs(ctx context.Context, grace time.Duration, limit int) ([]*job.Job, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: server time: %w", err)
	}
	jobs, err := s.dueJobs(ctx, pendingExpiryKey, now.Add(-grace).UnixMilli(), job.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: list stale pending jobs: %w", err)
	}
	return jobs, nil
}

// dueJobs loads members of a deadline index scored at or before maxMs,
// ordered oldest first by (created_at, id).
func (s *Store) dueJobs(ctx context.Context, key string, maxMs int64, status job.Status, limit int) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(maxMs, 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	loaded, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	jobs := loaded[:0]
	for _, j := range loaded {
		if j.Status == status {
			jobs = append(jobs, j)
		}
	}
	slices.SortFunc(jobs, func(a, b *job.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	n, err := deleteJob.Run(ctx, s.client, []string{jobKey(jID)}, indexPrefix, jID).Int64()
	if err != nil {
		return fmt.Errorf("asyncjob/redis: delete job: %w", err)
	}
	if n == 0 {
		return asyncjob.ErrJobNotFound
	}
	return nil
}

// CountJobs returns the number of jobs matching opts from the index
// cardinalities.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	statuses := allStatuses
	if opts.Status != "" {
		statuses = []job.Status{opts.Status}
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.IntCmd, 0, len(statuses))
	for _, st := range statuses {
		key := statusKey(string(st))
		if opts.Type != "" {
			key = statusTypeKey(string(st), string(opts.Type))
		}
		cmds = append(cmds, pipe.ZCard(ctx, key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("asyncjob/redis: count jobs: %w", err)
	}

	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

// ── helpers ──

// loadJobs fetches Hashes for ids in order, skipping IDs deleted since the
// index was read.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, c := range cmds {
		vals := c.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := fieldsToJob(vals)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// jobToFields flattens j into HSET field/value pairs. Nil values are
// stored as empty strings.
func jobToFields(j *job.Job) ([]any, error) {
	meta := ""
	if len(j.Metadata) > 0 {
		b, err := json.Marshal(j.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}

	return []any{
		"id", j.ID.String(),
		"type", string(j.Type),
		"entity_type", j.EntityType,
		"entity_id", j.EntityID,
		"status", string(j.Status),
		"progress", strconv.Itoa(j.Progress),
		"message", j.Message,
		"started_at", formatTime(j.StartedAt),
		"completed_at", formatTime(j.CompletedAt),
		"results", string(j.Results),
		"error_message", j.ErrorMessage,
		"metadata", meta,
		"timeout_seconds", strconv.Itoa(j.TimeoutSeconds),
		"created_at", j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at", j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func fieldsToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: parse job id: %w", err)
	}
	progress, err := strconv.Atoi(m["progress"])
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: parse progress: %w", err)
	}
	timeout, err := strconv.Atoi(m["timeout_seconds"])
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: parse timeout: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, m["created_at"])
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, m["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: parse updated_at: %w", err)
	}

	j := &job.Job{
		Entity: asyncjob.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:             jID,
		Type:           job.Type(m["type"]),
		EntityType:     m["entity_type"],
		EntityID:       m["entity_id"],
		Status:         job.Status(m["status"]),
		Progress:       progress,
		Message:        m["message"],
		ErrorMessage:   m["error_message"],
		TimeoutSeconds: timeout,
	}

	if j.StartedAt, err = parseTime(m["started_at"]); err != nil {
		return nil, fmt.Errorf("asyncjob/redis: parse started_at: %w", err)
	}
	if j.CompletedAt, err = parseTime(m["completed_at"]); err != nil {
		return nil, fmt.Errorf("asyncjob/redis: parse completed_at: %w", err)
	}
	if v := m["results"]; v != "" {
		j.Results = json.RawMessage(v)
	}
	if v := m["metadata"]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Metadata); err != nil {
			return nil, fmt.Errorf("asyncjob/redis: decode metadata: %w", err)
		}
	}
	return j, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

// jobModel is the stored document. Results and metadata are kept as JSON
// text so they read back byte-for-byte and type-for-type.
type jobModel struct {
	ID             string     `bson:"_id"`
	Type           string     `bson:"type"`
	EntityType     string     `bson:"entity_type"`
	EntityID       string     `bson:"entity_id"`
	Status         string     `bson:"status"`
	Progress       int        `bson:"progress"`
	Message        string     `bson:"message"`
	StartedAt      *time.Time `bson:"started_at,omitempty"`
	CompletedAt    *time.Time `bson:"completed_at,omitempty"`
	Results        string     `bson:"results,omitempty"`
	ErrorMessage   string     `bson:"error_message"`
	Metadata       string     `bson:"metadata,omitempty"`
	TimeoutSeconds int        `bson:"timeout_seconds"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

var (
	oldestFirst = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
)

// SaveJob upserts a job by ID.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	m, err := toJobModel(j)
	if err != nil {
		return fmt.Errorf("asyncjob/mongo: save job: %w", err)
	}
	_, err = s.jobs().ReplaceOne(ctx, bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("asyncjob/mongo: save job: %w", err)
	}
	return nil
}

// UpdateJob overwrites a job only while its persisted status equals
// expected.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job, expected job.Status) error {
	m, err := toJobModel(j)
	if err != nil {
		return fmt.Errorf("asyncjob/mongo: update job: %w", err)
	}

	res, err := s.jobs().ReplaceOne(ctx, bson.M{"_id": m.ID, "status": string(expected)}, m)
	if err != nil {
		return fmt.Errorf("asyncjob/mongo: update job: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.jobs().CountDocuments(ctx, bson.M{"_id": m.ID})
	if err != nil {
		return fmt.Errorf("asyncjob/mongo: update job: %w", err)
	}
	if n == 0 {
		return asyncjob.ErrJobNotFound
	}
	return asyncjob.ErrStatusConflict
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, asyncjob.ErrJobNotFound
		}
		return nil, fmt.Errorf("asyncjob/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// GetJobByEntity returns the newest job of type t for an entity.
func (s *Store) GetJobByEntity(ctx context.Context, t job.Type, entityType, entityID string) (*job.Job, error) {
	filter := bson.M{
		"type":        string(t),
		"entity_type": entityType,
		"entity_id":   entityID,
	}
	var m jobModel
	err := s.jobs().FindOne(ctx, filter, options.FindOne().SetSort(newestFirst)).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, asyncjob.ErrJobNotFound
		}
		return nil, fmt.Errorf("asyncjob/mongo: get job by entity: %w", err)
	}
	return fromJobModel(&m)
}

// ListJobsByStatus returns jobs in the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"status": string(status)}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	findOpts := options.Find().SetSort(oldestFirst)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	jobs, err := s.find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/mongo: list jobs by status: %w", err)
	}
	return jobs, nil
}

// ListTimedOutJobs returns processing jobs past their deadline by the
// server clock.
func (s *Store) ListTimedOutJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"status":     string(job.StatusProcessing),
		"started_at": bson.M{"$ne": nil},
		"$expr": bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{
				"$started_at",
				bson.M{"$multiply": bson.A{"$timeout_seconds", 1000}},
			}},
			"$$NOW",
		}},
	}

	jobs, err := s.find(ctx, filter, limitedOldestFirst(limit))
	if err != nil {
		return nil, fmt.Errorf("asyncjob/mongo: list timed out jobs: %w", err)
	}
	return jobs, nil
}

// ListStalePendingJobs returns pending jobs older than their timeout plus
// grace by the server clock.
func (s *Store) ListStalePendingJobs(ctx context.Context, grace time.Duration, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"status": string(job.StatusPending),
		"$expr": bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{
				"$created_at",
				bson.M{"$multiply": bson.A{"$timeout_seconds", 1000}},
				grace.Milliseconds(),
			}},
			"$$NOW",
		}},
	}

	jobs, err := s.find(ctx, filter, limitedOldestFirst(limit))
	if err != nil {
		return nil, fmt.Errorf("asyncjob/mongo: list stale pending jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs().DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("asyncjob/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return asyncjob.ErrJobNotFound
	}
	return nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	n, err := s.jobs().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("asyncjob/mongo: count jobs: %w", err)
	}
	return n, nil
}

// ── helpers ──────────────────────────────────────────────────────

func limitedOldestFirst(limit int) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(oldestFirst)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*job.Job, error) {
	cur, err := s.jobs().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeJobs(ctx, cur)
}

func decodeJobs(ctx context.Context, cur *mongod.Cursor) ([]*job.Job, error) {
	var models []jobModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func toJobModel(j *job.Job) (*jobModel, error) {
	m := &jobModel{
		ID:             j.ID.String(),
		Type:           string(j.Type),
		EntityType:     j.EntityType,
		EntityID:       j.EntityID,
		Status:         string(j.Status),
		Progress:       j.Progress,
		Message:        j.Message,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		Results:        string(j.Results),
		ErrorMessage:   j.ErrorMessage,
		TimeoutSeconds: j.TimeoutSeconds,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if len(j.Metadata) > 0 {
		b, err := json.Marshal(j.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		m.Metadata = string(b)
	}
	return m, nil
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("asyncjob/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: asyncjob.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             jobID,
		Type:           job.Type(m.Type),
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		Status:         job.Status(m.Status),
		Progress:       m.Progress,
		Message:        m.Message,
		StartedAt:      utcPtr(m.StartedAt),
		CompletedAt:    utcPtr(m.CompletedAt),
		ErrorMessage:   m.ErrorMessage,
		TimeoutSeconds: m.TimeoutSeconds,
	}
	if m.Results != "" {
		j.Results = json.RawMessage(m.Results)
	}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &j.Metadata); err != nil {
			return nil, fmt.Errorf("asyncjob/mongo: decode metadata: %w", err)
		}
	}
	return j, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

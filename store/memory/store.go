// Package memory provides an in-memory job store for tests and
// single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

var _ job.Store = (*Store)(nil)

// Option configures a memory Store.
type Option func(*Store)

// WithClock replaces the store's notion of "now". Time-based queries
// evaluate against this clock, the same way SQL backends use NOW().
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Records are copied on the way in and out.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
	now  func() time.Time
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs: make(map[string]*job.Job),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// SaveJob upserts a copy of j.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID.String()] = j.Clone()
	return nil
}

// UpdateJob replaces the stored record if its status still equals expected.
func (m *Store) UpdateJob(_ context.Context, j *job.Job, expected job.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	cur, ok := m.jobs[key]
	if !ok {
		return asyncjob.ErrJobNotFound
	}
	if cur.Status != expected {
		return asyncjob.ErrStatusConflict
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, asyncjob.ErrJobNotFound
	}
	return j.Clone(), nil
}

// GetJobByEntity returns the most recently created job for the entity.
func (m *Store) GetJobByEntity(_ context.Context, t job.Type, entityType, entityID string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *job.Job
	for _, j := range m.jobs {
		if j.Type != t || j.EntityType != entityType || j.EntityID != entityID {
			continue
		}
		if latest == nil || newer(j, latest) {
			latest = j
		}
	}
	if latest == nil {
		return nil, asyncjob.ErrJobNotFound
	}
	return latest.Clone(), nil
}

// ListJobsByStatus returns jobs in the given status ordered by creation.
func (m *Store) ListJobsByStatus(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.collect(func(j *job.Job) bool {
		if j.Status != status {
			return false
		}
		return opts.Type == "" || j.Type == opts.Type
	}, opts.Offset, opts.Limit), nil
}

// ListTimedOutJobs returns processing jobs past started_at + timeout.
func (m *Store) ListTimedOutJobs(_ context.Context, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	return m.collect(func(j *job.Job) bool {
		if j.Status != job.StatusProcessing {
			return false
		}
		deadline, ok := j.Deadline()
		return ok && !deadline.After(now)
	}, 0, limit), nil
}

// ListStalePendingJobs returns pending jobs past created_at + timeout + grace.
func (m *Store) ListStalePendingJobs(_ context.Context, grace time.Duration, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	return m.collect(func(j *job.Job) bool {
		if j.Status != job.StatusPending {
			return false
		}
		return !j.CreatedAt.Add(j.Timeout() + grace).After(now)
	}, 0, limit), nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return asyncjob.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		n++
	}
	return n, nil
}

// collect returns copies of matching jobs sorted by (CreatedAt, ID). The
// caller must hold m.mu.
func (m *Store) collect(match func(*job.Job) bool, offset, limit int) []*job.Job {
	var out []*job.Job
	for _, j := range m.jobs {
		if match(j) {
			out = append(out, j)
		}
	}

	sort.Slice(out, func(a, b int) bool { return newer(out[b], out[a]) })

	if offset > 0 {
		if offset >= len(out) {
			return []*job.Job{}
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	result := make([]*job.Job, len(out))
	for i, j := range out {
		result[i] = j.Clone()
	}
	return result
}

// newer reports whether a was created after b. IDs break ties since they
// are time-ordered.
func newer(a, b *job.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

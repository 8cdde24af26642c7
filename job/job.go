package job

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job was created but no worker has picked it up.
	StatusPending Status = "pending"
	// StatusProcessing means a worker is executing the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job finished with an error.
	StatusFailed Status = "failed"
	// StatusTimeout means the job exceeded its declared timeout.
	StatusTimeout Status = "timeout"
)

// IsTerminal reports whether s is an absorbing state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("job: unknown status %q", s)
	}
	return st, nil
}

// Job is the persisted record of one unit of background work.
//
// Only the orchestrator mutates lifecycle fields (Status, Progress,
// Message, StartedAt, CompletedAt, Results, ErrorMessage). Stores persist
// whatever they are handed.
type Job struct {
	asyncjob.Entity

	ID             id.JobID        `json:"id"`
	Type           Type            `json:"type"`
	EntityType     string          `json:"entity_type,omitempty"`
	EntityID       string          `json:"entity_id,omitempty"`
	Status         Status          `json:"status"`
	Progress       int             `json:"progress"`
	Message        string          `json:"message,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Results        json.RawMessage `json:"results,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds"`
}

// Timeout returns the declared execution budget.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// Deadline returns StartedAt plus the timeout. ok is false for jobs that
// never started.
func (j *Job) Deadline() (deadline time.Time, ok bool) {
	if j.StartedAt == nil {
		return time.Time{}, false
	}
	return j.StartedAt.Add(j.Timeout()), true
}

// HasEntity reports whether the job is linked to a business entity.
func (j *Job) HasEntity() bool {
	return j.EntityType != "" && j.EntityID != ""
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Results != nil {
		cp.Results = append(json.RawMessage(nil), j.Results...)
	}
	if j.Metadata != nil {
		cp.Metadata = maps.Clone(j.Metadata)
	}
	return &cp
}

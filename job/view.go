package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/asyncjob/id"
)

// StatusView is the read-only projection served to polling clients.
type StatusView struct {
	JobID    id.JobID `json:"job_id"`
	Status   Status   `json:"status"`
	Progress int      `json:"progress"`
	Message  string   `json:"message,omitempty"`

	// EstimatedRemaining is nil when no estimate is possible: the job is
	// not processing or has not reported any progress yet. On the wire it
	// is a whole number of seconds.
	EstimatedRemaining *time.Duration `json:"estimated_time_remaining,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// MarshalJSON encodes EstimatedRemaining as whole seconds.
func (v StatusView) MarshalJSON() ([]byte, error) {
	type plain StatusView
	out := struct {
		plain
		EstimatedRemaining *int64 `json:"estimated_time_remaining,omitempty"`
	}{plain: plain(v)}
	if v.EstimatedRemaining != nil {
		secs := int64(v.EstimatedRemaining.Round(time.Second) / time.Second)
		out.EstimatedRemaining = &secs
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *StatusView) UnmarshalJSON(data []byte) error {
	type plain StatusView
	var in struct {
		plain
		EstimatedRemaining *int64 `json:"estimated_time_remaining,omitempty"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*v = StatusView(in.plain)
	v.EstimatedRemaining = nil
	if in.EstimatedRemaining != nil {
		d := time.Duration(*in.EstimatedRemaining) * time.Second
		v.EstimatedRemaining = &d
	}
	return nil
}

// NewStatusView projects j at time now.
func NewStatusView(j *Job, now time.Time) *StatusView {
	return &StatusView{
		JobID:              j.ID,
		Status:             j.Status,
		Progress:           j.Progress,
		Message:            j.Message,
		EstimatedRemaining: EstimateRemaining(j, now),
		ErrorMessage:       j.ErrorMessage,
	}
}

// EstimateRemaining extrapolates linearly from progress:
// elapsed*(100/progress) - elapsed, clamped to [0, remaining timeout budget].
func EstimateRemaining(j *Job, now time.Time) *time.Duration {
	if j.Status != StatusProcessing || j.Progress <= 0 || j.StartedAt == nil {
		return nil
	}

	elapsed := now.Sub(*j.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	est := time.Duration(float64(elapsed)*(100/float64(j.Progress))) - elapsed

	budget := j.Timeout() - elapsed
	if budget < 0 {
		budget = 0
	}
	est = min(max(est, 0), budget)
	return &est
}

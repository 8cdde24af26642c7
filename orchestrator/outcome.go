package orchestrator

import "github.com/xraph/asyncjob"

// Outcome reports what a lifecycle operation did to the job record.
// Losing a race against a terminal transition is an outcome, not an error.
type Outcome string

const (
	// Applied means the mutation was persisted.
	Applied Outcome = "applied"
	// AlreadyTerminal means the job had already completed, failed or timed
	// out. Nothing was written.
	AlreadyTerminal Outcome = "already_terminal"
	// NotFound means no job exists with the given ID.
	NotFound Outcome = "not_found"
	// Rejected means the state machine does not allow the transition from
	// the job's current status.
	Rejected Outcome = "rejected"
)

// Err maps the outcome to the matching sentinel error for callers that
// prefer errors.Is checks. Applied maps to nil.
func (o Outcome) Err() error {
	switch o {
	case AlreadyTerminal:
		return asyncjob.ErrJobAlreadyFinished
	case NotFound:
		return asyncjob.ErrJobNotFound
	case Rejected:
		return asyncjob.ErrInvalidTransition
	default:
		return nil
	}
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o == "" {
		return "unknown"
	}
	return string(o)
}

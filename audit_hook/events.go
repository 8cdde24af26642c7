package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobCreated    = "job.created"
	ActionJobStarted    = "job.started"
	ActionJobProgressed = "job.progressed"
	ActionJobCompleted  = "job.completed"
	ActionJobFailed     = "job.failed"
	ActionJobTimedOut   = "job.timed_out"
)

// CategoryJob groups every job lifecycle action.
const CategoryJob = "asyncjob.job"

// ResourceJob is the Resource field of every audit event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobStarted,
		ActionJobProgressed,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobTimedOut,
	}
}

// TerminalActions returns the actions recorded when a job finishes.
func TerminalActions() []string {
	return []string{ActionJobCompleted, ActionJobFailed, ActionJobTimedOut}
}

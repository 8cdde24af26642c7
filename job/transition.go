package job

// transitions lists the allowed edges of the lifecycle state machine.
// Terminal states have no outgoing edges. Processing → processing is
// allowed: it starts a new progress episode without touching StartedAt.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusTimeout},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed, StatusTimeout},
}

// CanTransition reports whether a job in state from may move to state to.
// Pending → completed is rejected: a job must be processed to complete.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

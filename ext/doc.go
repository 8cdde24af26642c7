// Package ext defines the extension system for asyncjob.
//
// Extensions are notified after the orchestrator applies a lifecycle
// transition and can react to it, for example by recording metrics or
// pushing a notification to the client that owns the job. Each hook is a
// separate interface so extensions opt in only to the events they need.
//
//	type notifier struct{ hub *Hub }
//
//	func (n *notifier) Name() string { return "notifier" }
//
//	func (n *notifier) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    return n.hub.Publish(ctx, j.EntityID, j.ID.String())
//	}
//
// Hooks:
//
//   - [JobCreated]
//   - [JobStarted]
//   - [JobProgressed]
//   - [JobCompleted]
//   - [JobFailed]
//   - [JobTimedOut]
//   - [Shutdown]
//
// A hook that returns an error is logged by the [Registry]; the transition
// has already been persisted and stands.
package ext

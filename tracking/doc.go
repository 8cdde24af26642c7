// Package tracking keeps job records in step with broker deliveries.
//
// [Hook] plugs into the worker executor as a [worker.Hook]. Handlers are
// expected to report progress and results through the orchestrator
// themselves; the hook is the safety net that makes sure a record never
// stays in processing just because a handler returned without reporting,
// and that a delivery the broker gives up on always shows as failed.
//
//	orch, _ := orchestrator.New(store)
//	exec := worker.NewExecutor(b, registry,
//	    worker.WithHooks(tracking.New(orch, tracking.WithLogger(logger))),
//	)
//
// Messages without a job_id are not tracked and pass through untouched.
package tracking

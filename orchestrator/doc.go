// Package orchestrator is the only writer of job lifecycle fields.
//
// Every mutation is a read-modify-write against the job store guarded by
// the status that was read: the store applies the write only if the
// record's status has not moved in between (job.Store.UpdateJob). When a
// concurrent writer wins, the orchestrator re-reads and re-evaluates, so
// racing terminal transitions resolve to exactly one Applied outcome and
// AlreadyTerminal for everyone else.
//
//	o, _ := orchestrator.New(store, orchestrator.WithLogger(logger))
//	jobID, _ := o.Create(ctx, job.TypePDFAnalysis, job.WithTimeout(2*time.Minute))
//	o.StartProcessing(ctx, jobID, "downloading")
//	o.UpdateProgress(ctx, jobID, 40, "extracting text")
//	o.Complete(ctx, jobID, map[string]any{"pages": 12})
package orchestrator

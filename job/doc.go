// Package job defines the job record, its lifecycle state machine, typed
// handler definitions, and the store interface.
//
// # Job Record
//
// A [Job] embeds [asyncjob.Entity] for timestamps and moves through:
//
//	pending → processing → completed
//	pending → processing → failed
//	pending → processing → timeout
//	pending → failed | timeout
//
// Completed, failed and timeout are terminal. [CanTransition] encodes the
// allowed edges; the orchestrator package enforces them.
//
// Fields of note:
//   - Type: selects the handler and the default [Policy]
//   - EntityType / EntityID: optional link used for idempotent creation
//   - Progress: 0–100, monotonic within one processing episode
//   - TimeoutSeconds: budget checked by the reaper against StartedAt
//
// # Defining a Handler
//
//	var AnalyzeResume = job.NewDefinition(job.TypeResumeAnalysis,
//	    func(ctx context.Context, jobID id.JobID, in ResumeInput) error {
//	        return analyzer.Run(ctx, jobID, in)
//	    },
//	)
//
// Register definitions at startup via [RegisterDefinition], or through
// the engine package's engine.Register wrapper.
package job

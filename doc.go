// Package asyncjob tracks long-running background work through a persisted
// lifecycle. Callers create a job record, publish a message carrying its
// job_id to a broker, and poll the record for progress while distributed
// workers execute the payload.
//
// # Lifecycle
//
// Every job moves through a small state machine:
//
//	pending ──► processing ──► completed | failed | timeout
//	   └──────────────────────► failed | timeout
//
// Terminal states are absorbing. All lifecycle writes go through the
// orchestrator package; stores only persist what they are given.
//
// # Quick Start
//
//	st := memory.New()
//	eng, err := engine.New(
//	    engine.WithStore(st),
//	    engine.WithBroker(memorybroker.New()),
//	)
//	engine.Register(eng, job.NewDefinition(job.TypeResumeAnalysis, analyze))
//	jobID, err := engine.Submit(ctx, eng, job.TypeResumeAnalysis, payload,
//	    job.WithEntity("candidate", candidateID),
//	)
//
// # Recovery
//
// The reaper package periodically marks jobs whose worker never reported
// back as timed out. The broker integration in package tracking finishes
// jobs whose payload returned without reporting a terminal state.
//
// All job IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package asyncjob

// Package audithook is an asyncjob extension that bridges job lifecycle
// transitions to an audit trail backend.
//
// Every transition the orchestrator applies emits a structured audit event
// through the [Recorder] interface. Severity follows the outcome: info for
// normal progress, warning for timeouts and critical for failures. Metadata
// carries the job type, linked entity, progress and elapsed time.
//
// # Logging audit trail
//
//	eng, err := engine.New(
//	    engine.WithStore(st),
//	    engine.WithBroker(b),
//	    engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobTimedOut,
//	    ),
//	)
package audithook

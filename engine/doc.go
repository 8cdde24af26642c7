// Package engine wires the asyncjob subsystems together and provides the
// primary application-level API for registering handlers and submitting
// tracked work.
//
// # Building an Engine
//
//	st, err := store.Open(ctx, store.Config{Driver: store.DriverPostgres, DSN: dsn})
//
//	eng, err := engine.New(
//	    engine.WithStore(st),
//	    engine.WithBroker(redisbroker.New(rdb)),
//	    engine.WithConfig(asyncjob.Config{Concurrency: 20}),
//	    engine.WithExtension(myExtension),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:      "ai",
//	        RateLimit: 5,
//	    }),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition(job.TypePDFAnalysis, analyzePDF))
//
// Handlers receive the job ID and report through eng.Orchestrator(). A
// handler that returns nil without completing its job is completed by the
// broker tracking hook; a handler error fails it.
//
// # Submitting Jobs
//
//	jobID, err := engine.Submit(ctx, eng, job.TypePDFAnalysis, PDFInput{URL: u},
//	    job.WithEntity("document", docID),
//	)
//
//	// One live job per entity
//	jobID, created, err := engine.SubmitForEntity(ctx, eng, job.TypeResumeAnalysis,
//	    "candidate", candidateID, input)
//
// # Options
//
//   - [WithStore], [WithBroker] set the required backends
//   - [WithCodec] selects the payload encoding
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the execution chain
//   - [WithBackoff] sets the retry backoff strategy
//   - [WithRetryAwareFailures] keeps jobs in processing between redeliveries
//   - [WithReaperSchedule] sweeps for timeouts on a cron schedule
//   - [WithQueueConfig] configures per-queue rate limits and concurrency
//   - [WithTracerProvider], [WithMeterProvider] set the OpenTelemetry providers
//   - [WithoutWorker], [WithoutReaper] run a producer-only or reaper-less instance
package engine

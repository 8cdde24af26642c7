package asyncjob

import "time"

// Config holds the runtime tuning shared by the worker pool and the reaper.
type Config struct {
	// Concurrency is the maximum number of messages processed concurrently
	// by one worker pool.
	Concurrency int

	// Queues is the list of broker queues the worker pool consumes. Empty
	// means the queues of every registered job type.
	Queues []string

	// ShutdownTimeout is the maximum time to wait for in-flight messages
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// ReapInterval is how often the reaper sweeps for expired jobs.
	ReapInterval time.Duration

	// ReapBatchSize caps the number of jobs transitioned per sweep and kind.
	ReapBatchSize int

	// PendingGrace is added to a pending job's timeout before the reaper
	// treats it as orphaned. A negative value disables the pending sweep.
	PendingGrace time.Duration

	// MessageTimeout cancels a handler's context after this long. An
	// expired delivery marks its job timed out. Zero applies no bound and
	// leaves job timeouts to the reaper.
	MessageTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		ShutdownTimeout: 30 * time.Second,
		ReapInterval:    5 * time.Second,
		ReapBatchSize:   100,
		PendingGrace:    time.Minute,
	}
}

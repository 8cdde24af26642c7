// Package broker defines the message contract between producers and the
// worker pool, and the codecs used to serialize it.
//
// A message that should be tracked carries the job_id of a job record.
// The tracking hook reads that field by convention, whatever the message
// type.
//
// Implementations:
//   - broker/memory: channel-backed, single process
//   - broker/redis: list-based reliable queue with a delayed sorted set
package broker

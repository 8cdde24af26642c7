// Package queue limits how fast and how much the worker pool consumes from
// each broker queue.
//
// Job types map to queues through their policy (for example bulk imports
// on their own queue). A [Config] caps a queue's local concurrency and its
// sustained rate:
//
//	queue.Config{Name: "ai", MaxConcurrency: 4, RateLimit: 2, RateBurst: 4}
//
// Before each consume the pool calls [Manager.Reserve] to hold a slot on
// every queue it may read, then releases the queues the message did not
// come from and [Manager.Commit]s the one it did. Rate limits use golang.org/x/time/rate token buckets.
package queue

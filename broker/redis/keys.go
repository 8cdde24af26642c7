package redis

// Key layout. All keys share the "asyncjob:" prefix.
const keyPrefix = "asyncjob:"

// queueKey is the ready list for a queue: asyncjob:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// processingKey holds deliveries consumed but not yet acknowledged.
func processingKey(name string) string { return keyPrefix + "processing:" + name }

// leaseKey is the sorted set of processing entries scored by the unix
// milliseconds at which an unacknowledged delivery is requeued.
func leaseKey(name string) string { return keyPrefix + "leases:" + name }

// delayedKey is the sorted set of future deliveries, scored by due time in
// unix milliseconds.
func delayedKey(name string) string { return keyPrefix + "delayed:" + name }

// deadKey is the list of dead-lettered messages.
const deadKey = keyPrefix + "dead"

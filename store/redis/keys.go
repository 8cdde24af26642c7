package redis

// Redis key naming conventions for job records. All keys share the
// "asyncjob:" prefix with the broker; the sub-namespaces do not overlap.

const keyPrefix = "asyncjob:"

// indexPrefix is handed to the Lua scripts, which build index keys
// themselves.
const indexPrefix = keyPrefix + "jobs:"

// jobKey returns the Hash key for a job record: asyncjob:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// statusKey returns the Sorted Set of job IDs in a status, scored by
// created_at in microseconds.
func statusKey(status string) string { return indexPrefix + "status:" + status }

// statusTypeKey narrows statusKey to one job type.
func statusTypeKey(status, jobType string) string {
	return indexPrefix + "status:" + status + ":type:" + jobType
}

// entityKey returns the Sorted Set of jobs of one type linked to an entity.
func entityKey(jobType, entityType, entityID string) string {
	return indexPrefix + "entity:" + jobType + ":" + entityType + ":" + entityID
}

// deadlinesKey holds processing jobs scored by started_at + timeout in
// milliseconds.
const deadlinesKey = indexPrefix + "deadlines"

// pendingExpiryKey holds pending jobs scored by created_at + timeout in
// milliseconds.
const pendingExpiryKey = indexPrefix + "pending_expiry"

package redis

// Redis key naming conventions for anchor data.
// All keys are prefixed with "anchor:" to avoid collisions.

const keyPrefix = "anchor:"

// checkpointKey returns the key for a checkpoint blob: anchor:checkpoint:{runID}
func checkpointKey(runID string) string { return keyPrefix + "checkpoint:" + runID }

// pendingCleanupKey is the Set tracking run IDs with registered
// compensations, maintained on every write.
const pendingCleanupKey = keyPrefix + "pending_cleanup"

// runningStartedKey is the Sorted Set of running run IDs scored by
// StartedAt (unix seconds), used for staleness scans.
const runningStartedKey = keyPrefix + "running_started"

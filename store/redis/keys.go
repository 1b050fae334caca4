package redis

// Redis key naming conventions for delayed data.
// All keys are prefixed with "delayed:" to avoid collisions.

const keyPrefix = "delayed:"

// jobKeyPrefix prefixes every job Hash; scripts rebuild keys from it.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity: delayed:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// createdKey is the Sorted Set of all job IDs scored by created_at (ms).
const createdKey = keyPrefix + "jobs:created"

// eligibleKey is the Sorted Set of unlocked, incomplete job IDs scored by
// run_at (ms).
const eligibleKey = keyPrefix + "jobs:eligible"

// lockedKey is the Sorted Set of locked job IDs scored by locked_at (ms).
const lockedKey = keyPrefix + "jobs:locked"

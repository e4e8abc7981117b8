// Package cmap provides a concurrent-safe sharded map keyed by strings.
//
// Keys are spread over a power-of-two number of shards with murmur3, each
// shard guarded by its own RWMutex. It backs the in-flight request tables
// and the pending-restore set, where many goroutines touch unrelated keys.
//
// @design DS-0102
package cmap

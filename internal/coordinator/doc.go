// Package coordinator implements the remote coordination service used for
// session hand-off.
//
// A hand-off snapshot is the full field map of a session addressed to one
// target device. It survives until revoked, and only the target device can
// retrieve it. Saving a snapshot also pushes its entries to the target's
// live data-change subscription, if any.
//
// RedisClient keeps snapshots in redis hashes and pushes changes over redis
// pub/sub. LocalService provides the same semantics inside one process.
// Both satisfy cachemgr.Coordinator and invoke every callback from a
// goroutine other than the caller's.
//
// @design DS-0303
package coordinator

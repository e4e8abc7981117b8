// Package substrate provides the replicated key-value substrate that the
// storage engine builds on.
//
// A Manager owns one badger database per app. Tables are key prefixes
// inside it and are reached through a Delegate. Committed writes are
// reported to table observers as ChangeBatch values, delivered
// asynchronously in commit order.
//
// Replication is pull based: Delegate.Sync fetches a table from peer
// devices through a Transport and merges it locally. Missing keys are
// inserted and existing keys take the remote value only when its write
// stamp is newer. Deletions are not replicated.
//
// @design DS-0401
package substrate

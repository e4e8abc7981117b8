// Package storage provides the storage engine for objmesh.
//
// The engine keeps one table per session on the replicated substrate
// (package substrate). It offers item and whole-table I/O, one field
// observer per session, a process-wide device status watcher and pull
// synchronization against peer devices.
//
// Field keys carry the "p_" prefix. Observers only see inserted and
// updated user fields, with the prefix removed.
//
// @req RQ-0101
// @design DS-0102
package storage

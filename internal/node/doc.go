// Package node assembles a device node from its configuration: logger,
// metrics, mesh transport, coordination client, cache manager and the
// per-bundle storage engines behind an objmesh.Registry.
//
// @design DS-0501
package node

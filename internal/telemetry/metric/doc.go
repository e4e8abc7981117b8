// Package metric provides Prometheus metrics for objmesh.
//
// Metrics include:
//
//   - Active session object gauge
//   - Storage engine operation counters
//   - Cache manager bridge call counters and latency histograms
//   - Pull-sync and remote change counters
//   - Online device gauge
//
// Metrics are exposed at /metrics in Prometheus format when the node's
// metrics address is configured.
//
// @req RQ-0403
// @design DS-0402
package metric

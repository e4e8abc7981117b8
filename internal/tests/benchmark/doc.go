// Package benchmark measures field I/O and hand-off sealing.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
package benchmark

// Package benchmark holds cross-package benchmarks for the worker pool and
// the frame integration driver. Run with:
//
//	go test -bench=. -benchmem ./internal/benchmark/
package benchmark

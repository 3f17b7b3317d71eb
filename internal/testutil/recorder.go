package testutil

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Recorder collects values appended from concurrent goroutines, preserving
// the order in which Record calls acquired its lock. It also tracks how many
// callers are inside a Track section at once.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// Record appends v.
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

// Values returns a copy of the recorded values.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.values)
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Track runs fn while counting it as in flight and updates the observed
// maximum concurrency.
func (r *Recorder[T]) Track(fn func()) {
	n := r.inFlight.Add(1)
	for {
		peak := r.maxInFlight.Load()
		if n <= peak || r.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	defer r.inFlight.Add(-1)
	fn()
}

// MaxInFlight returns the highest number of concurrent Track sections seen.
func (r *Recorder[T]) MaxInFlight() int64 {
	return r.maxInFlight.Load()
}

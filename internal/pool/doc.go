// Package pool implements the bounded FIFO task queue and fixed worker
// cohort from spec.md §4.7: a mutex-guarded slice of closures, signalled
// through a sync.Cond and consumed by a fixed number of long-lived worker
// goroutines, with a distinct rejection
// signal the caller handles synchronously for backpressure.
package pool

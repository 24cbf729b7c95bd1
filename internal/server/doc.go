// Package server implements the master dispatch loop from spec.md §4.8 and
// §5. A goroutine per accepted connection ("connection watcher") reads one
// request at a time and submits it to the worker pool, re-reading the next
// request once the task completes — the Go equivalent of the source's
// select()-based master loop re-arming a client fd after a worker writes it
// back through the master pipe. A request suspended on a contended lock
// blocks its watcher on a per-client resume channel instead of returning to
// Read, exactly mirroring "the fd is not re-armed until the handoff
// completes" from spec.md §9.
package server

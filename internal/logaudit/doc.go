// Package logaudit implements the append-only, per-request CSV audit sink
// described in spec.md §6 and §9 ("Logger contract"): every handled
// request produces exactly one record, records are serialized through a
// single writer so the output is always well-formed CSV, and a failed
// write is surfaced as a warning rather than aborting the request that
// triggered it.
//
// This is treated as an external collaborator contract (spec.md §1 lists
// "logging record formatting" as out of scope) — the sink's job is
// reliable, ordered delivery of already-formatted records, not log
// presentation.
package logaudit

// Package store implements the storage engine described in spec.md §3 and
// §4.2-4.6: the per-file state machine, the sharded concurrent file table,
// the client registry used for disconnect cleanup, the pluggable eviction
// policies, and the capacity watchdog that guards against usage-counter
// overflow.
//
// Lock ordering is enforced structurally throughout this package: storage
// aggregate mutex, then file-shard mutex, then client-registry shard
// mutex. No exported method acquires two file-shard locks at once, except
// the eviction scan, which the contract explicitly permits to walk shards
// one at a time.
package store

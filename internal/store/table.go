package store

import "sync"

const defaultShardCount = 100

// ShardLock is proof that the caller holds the mutex guarding a single
// file-table shard. Every FileTable method that reads or mutates entry
// state requires one instead of re-acquiring a mutex internally, since
// Go's sync.Mutex is not reentrant: handlers that need to call a helper
// while already holding a shard's lock pass the token through instead of
// locking again.
type ShardLock struct {
	shard *fileShard
}

// Unlock releases the shard mutex this token represents.
func (l *ShardLock) Unlock() {
	l.shard.mu.Unlock()
}

type fileShard struct {
	mu      sync.Mutex
	entries map[string]*FileEntry
}

// FileTable is the sharded path→entry map from spec.md §4.2. The shard
// count is fixed at construction (driven by the max_locks config key,
// which spec.md §6 describes as an upper bound on the file table's shard
// count).
type FileTable struct {
	shards []*fileShard
}

func NewFileTable(shardCount int) *FileTable {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}
	shards := make([]*fileShard, shardCount)
	for i := range shards {
		shards[i] = &fileShard{entries: make(map[string]*FileEntry)}
	}
	return &FileTable{shards: shards}
}

func (t *FileTable) shardFor(path string) *fileShard {
	return t.shards[fnv1a(path)%uint32(len(t.shards))]
}

// Lock acquires the shard guarding path and returns a token proving it.
// Callers must call Unlock exactly once.
func (t *FileTable) Lock(path string) *ShardLock {
	s := t.shardFor(path)
	s.mu.Lock()
	return &ShardLock{shard: s}
}

// Get returns the entry at path under an already-held shard lock, or nil.
func (t *FileTable) Get(lock *ShardLock, path string) *FileEntry {
	return lock.shard.entries[path]
}

// Contains reports whether path is present under an already-held shard
// lock.
func (t *FileTable) Contains(lock *ShardLock, path string) bool {
	_, ok := lock.shard.entries[path]
	return ok
}

// Insert stores e at path under an already-held shard lock.
func (t *FileTable) Insert(lock *ShardLock, path string, e *FileEntry) {
	lock.shard.entries[path] = e
}

// Remove deletes path under an already-held shard lock.
func (t *FileTable) Remove(lock *ShardLock, path string) {
	delete(lock.shard.entries, path)
}

// RemoveAndGet deletes path and returns the entry that was stored there,
// or nil.
func (t *FileTable) RemoveAndGet(lock *ShardLock, path string) *FileEntry {
	e := lock.shard.entries[path]
	delete(lock.shard.entries, path)
	return e
}

// fnv1a is the same 32-bit FNV-1a hash the teacher's shard package uses
// for key→shard assignment.
func fnv1a(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

package store

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/filestore/internal/logaudit"
	"github.com/dreamware/filestore/internal/wire"
)

// maxEvictionAttempts bounds the retry loop in evictOneExcludingLocked: each
// attempt re-scans the order list fresh after a candidate turned out to
// have raced with a concurrent lock() between selection and removal.
const maxEvictionAttempts = 8

// EvictedFile is one (path, payload) pair rescued from an evicted entry,
// returned to the caller of write/append so the client may persist it.
type EvictedFile struct {
	Path    string
	Content []byte
}

// Outcome is what a suspended client's connection watcher eventually
// receives: either a response to encode and send, or an instruction that
// the connection should be dropped.
type Outcome struct {
	Response wire.Response
	Op       wire.Op
	Drop     bool
}

// Storage is the request-handling storage engine from spec.md §4.3-§4.6:
// the file table, client registry, capacity accounting, and eviction,
// wired together behind one aggregate mutex plus the sharded locks owned
// by FileTable and ClientRegistry.
type Storage struct {
	mu sync.Mutex // aggregate mutex: counters, insertion order, policy

	files   *FileTable
	clients *ClientRegistry
	order   []*FileEntry

	currFiles int
	currBytes int64
	peakFiles int
	peakBytes int64
	evictions int

	maxFiles int
	maxBytes int64
	policy   Policy

	log    *logaudit.Logger
	opslog *logrus.Logger

	resumeMu sync.Mutex
	resume   map[ClientID]chan Outcome
}

// Config is the subset of internal/config.Config the engine needs. Kept
// narrow and duplicated here (rather than importing internal/config
// directly) so store has no dependency on the config file format.
type Config struct {
	MaxFileNum      int
	MaxBytes        int64
	MaxLocks        int
	ExpectedClients int
	EvictionPolicy  Policy
}

// NewStorage builds an engine ready to serve requests.
func NewStorage(cfg Config, log *logaudit.Logger, ops *logrus.Logger) *Storage {
	return &Storage{
		files:    NewFileTable(cfg.MaxLocks),
		clients:  NewClientRegistry(cfg.ExpectedClients),
		maxFiles: cfg.MaxFileNum,
		maxBytes: cfg.MaxBytes,
		policy:   cfg.EvictionPolicy,
		log:      log,
		opslog:   ops,
		resume:   make(map[ClientID]chan Outcome),
	}
}

// AddClient registers a freshly accepted client with an empty opened/locked
// set.
func (s *Storage) AddClient(id ClientID) {
	cl := s.clients.Lock(id)
	defer cl.Unlock()
	s.clients.GetOrCreate(cl, id)
}

// RegisterResume opens id's resume channel, used to deliver the response to
// a request suspended on a lock waiter queue. The server's connection
// watcher must call this once at accept time and read from the returned
// channel whenever a handler reports Suspended.
func (s *Storage) RegisterResume(id ClientID) chan Outcome {
	ch := make(chan Outcome, 1)
	s.resumeMu.Lock()
	s.resume[id] = ch
	s.resumeMu.Unlock()
	return ch
}

// UnregisterResume drops id's resume channel at disconnect.
func (s *Storage) UnregisterResume(id ClientID) {
	s.resumeMu.Lock()
	delete(s.resume, id)
	s.resumeMu.Unlock()
}

// deliver attempts to hand outcome to id's resume channel. Returns false if
// the client has no registered channel or its channel is not ready to
// receive, which the caller treats as "that client is gone".
func (s *Storage) deliver(id ClientID, outcome Outcome) bool {
	s.resumeMu.Lock()
	ch, ok := s.resume[id]
	s.resumeMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- outcome:
		return true
	default:
		return false
	}
}

func (s *Storage) snapshotCounters() (files int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currFiles, s.currBytes
}

func (s *Storage) audit(workerID int, op wire.Op, outcome string, clientID ClientID, path string, bytesProcessed int64, currFiles int, currBytes int64) {
	if s.log == nil {
		return
	}
	rec := logaudit.Record{
		Time:           time.Now(),
		ThreadID:       workerID,
		Operation:      op.String(),
		Outcome:        outcome,
		ClientID:       int64(clientID),
		File:           path,
		BytesProcessed: bytesProcessed,
		CurrFiles:      currFiles,
		CurrBytes:      currBytes,
		CurrClients:    s.clients.Count(),
	}
	if err := s.log.Log(rec); err != nil && s.opslog != nil {
		s.opslog.WithError(err).Warn("audit log write failed")
	}
}

func resp(status wire.Status) wire.Response {
	return wire.Response{Status: status}
}

// Open implements spec.md §4.3's open handler. The returned bool reports
// whether the request suspended on a contended lock — the caller must not
// write any response in that case; the handoff path will deliver one later
// via the client's resume channel.
func (s *Storage) Open(workerID int, clientID ClientID, path string, mode wire.Op) (wire.Response, bool) {
	now := time.Now()
	create := mode == wire.OpOpenCreate || mode == wire.OpOpenCreateLock
	lockReq := mode == wire.OpOpenLock || mode == wire.OpOpenCreateLock

	if create {
		r := s.openCreate(workerID, clientID, path, lockReq, now)
		return r, false
	}

	lock := s.files.Lock(path)
	e := s.files.Get(lock, path)
	if e == nil {
		lock.Unlock()
		files, bytes := s.snapshotCounters()
		s.audit(workerID, mode, wire.StatusFileNotExists.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusFileNotExists), false
	}
	if e.IsOpener(clientID) {
		lock.Unlock()
		files, bytes := s.snapshotCounters()
		s.audit(workerID, mode, wire.StatusFileAlreadyOpen.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusFileAlreadyOpen), false
	}
	e.AddOpener(clientID)
	s.addOpenedRef(clientID, path)

	if !lockReq {
		lock.Unlock()
		files, bytes := s.snapshotCounters()
		s.audit(workerID, mode, wire.StatusOK.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusOK), false
	}
	if e.LockHolder == NoClient {
		e.LockHolder = clientID
		s.addLockedRef(clientID, path)
		lock.Unlock()
		files, bytes := s.snapshotCounters()
		s.audit(workerID, mode, wire.StatusOK.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusOK), false
	}

	e.EnqueueWaiter(clientID)
	lock.Unlock()
	files, bytes := s.snapshotCounters()
	s.audit(workerID, mode, logaudit.OutcomeClientIsWaiting, clientID, path, 0, files, bytes)
	return wire.Response{}, true
}

// openCreate handles OPEN_CREATE and OPEN_CREATE_LOCK. The target path's
// shard lock is taken only for the existence probe and for the final
// insert, and is not held while eviction (if needed) runs, so a victim
// that happens to hash to the same shard bucket as the new file never
// causes the calling goroutine to lock its own shard twice.
func (s *Storage) openCreate(workerID int, clientID ClientID, path string, lockReq bool, now time.Time) wire.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	probe := s.files.Lock(path)
	exists := s.files.Contains(probe, path)
	probe.Unlock()
	if exists {
		s.audit(workerID, wire.OpOpenCreate, wire.StatusFileAlreadyExists.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusFileAlreadyExists)
	}

	if s.currFiles >= s.maxFiles {
		if _, ok := s.evictOneExcludingLocked(path, now); !ok {
			s.audit(workerID, wire.OpOpenCreate, wire.StatusCouldNotEvict.String(), clientID, path, 0, s.currFiles, s.currBytes)
			return resp(wire.StatusCouldNotEvict)
		}
		for s.currFiles >= s.maxFiles {
			if _, ok := s.evictOneExcludingLocked(path, now); !ok {
				break
			}
		}
	}

	lock := s.files.Lock(path)
	if s.files.Contains(lock, path) {
		// Raced with a concurrent create of the same path between the
		// probe above and here; aggregate mutex makes this practically
		// unreachable, kept as a defensive check.
		lock.Unlock()
		s.audit(workerID, wire.OpOpenCreate, wire.StatusFileAlreadyExists.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusFileAlreadyExists)
	}

	e := NewFileEntry(path, now)
	e.AddOpener(clientID)
	if lockReq {
		e.LockHolder = clientID
		e.WriteAuth = clientID
	}
	s.files.Insert(lock, path, e)
	lock.Unlock()

	s.order = append(s.order, e)
	s.currFiles++
	if s.currFiles > s.peakFiles {
		s.peakFiles = s.currFiles
	}

	s.addOpenedRef(clientID, path)
	if lockReq {
		s.addLockedRef(clientID, path)
	}

	s.audit(workerID, wire.OpOpenCreate, wire.StatusOK.String(), clientID, path, 0, s.currFiles, s.currBytes)
	return resp(wire.StatusOK)
}

// Read implements spec.md §4.3's read handler.
func (s *Storage) Read(workerID int, clientID ClientID, path string) wire.Response {
	files, bytes := s.snapshotCounters()
	lock := s.files.Lock(path)
	defer lock.Unlock()

	e := s.files.Get(lock, path)
	if e == nil {
		s.audit(workerID, wire.OpRead, wire.StatusFileNotExists.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusFileNotExists)
	}
	if !e.IsOpener(clientID) {
		s.audit(workerID, wire.OpRead, wire.StatusOperationNotPermitted.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusOperationNotPermitted)
	}
	if e.LockHolder != NoClient && e.LockHolder != clientID {
		s.audit(workerID, wire.OpRead, wire.StatusOperationNotPermitted.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusOperationNotPermitted)
	}
	content := append([]byte(nil), e.Content...)
	s.audit(workerID, wire.OpRead, wire.StatusOK.String(), clientID, path, int64(len(content)), files, bytes)
	return wire.Response{Status: wire.StatusOK, Content: content}
}

// ReadN implements spec.md §4.3's read-N handler. Content is copied out
// while the aggregate mutex is held (preventing concurrent create, remove,
// or eviction) rather than streamed under many simultaneously-held
// file-shard locks, since two distinct paths can land in the same shard
// bucket and Go's sync.Mutex is not reentrant.
func (s *Storage) ReadN(workerID int, clientID ClientID, n int32) wire.Response {
	s.mu.Lock()

	type selected struct {
		path    string
		content []byte
	}
	var out []selected
	limit := int(n)
	unlimited := n <= 0

	for _, e := range s.order {
		if !unlimited && len(out) >= limit {
			break
		}
		lock := s.files.Lock(e.Path)
		if e.LockHolder == NoClient || e.LockHolder == clientID {
			out = append(out, selected{path: e.Path, content: append([]byte(nil), e.Content...)})
		}
		lock.Unlock()
	}

	files, bytes := s.currFiles, s.currBytes
	s.mu.Unlock()

	tails := make([]wire.ResponseFile, len(out))
	var total int64
	for i, o := range out {
		tails[i] = wire.ResponseFile{Path: o.path, Content: o.content}
		total += int64(len(o.content))
	}
	s.audit(workerID, wire.OpReadN, wire.StatusOK.String(), clientID, "", total, files, bytes)
	return wire.Response{Status: wire.StatusOK, Tails: tails}
}

// Write implements spec.md §4.3's write handler.
func (s *Storage) Write(workerID int, clientID ClientID, path string, content []byte) wire.Response {
	now := time.Now()

	if int64(len(content)) > s.maxBytes {
		files, bytes := s.snapshotCounters()
		s.audit(workerID, wire.OpWrite, wire.StatusTooLongContent.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusTooLongContent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.files.Lock(path)
	e := s.files.Get(lock, path)
	if e == nil {
		lock.Unlock()
		s.audit(workerID, wire.OpWrite, wire.StatusFileNotExists.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusFileNotExists)
	}
	if e.WriteAuth != clientID {
		lock.Unlock()
		s.audit(workerID, wire.OpWrite, wire.StatusOperationNotPermitted.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusOperationNotPermitted)
	}
	oldLen := int64(len(e.Content))
	lock.Unlock()

	var evicted []EvictedFile
	for s.currBytes-oldLen+int64(len(content)) > s.maxBytes || s.currFiles > s.maxFiles {
		ev, ok := s.evictOneExcludingLocked(path, now)
		if !ok {
			s.audit(workerID, wire.OpWrite, wire.StatusCouldNotEvict.String(), clientID, path, 0, s.currFiles, s.currBytes)
			return resp(wire.StatusCouldNotEvict)
		}
		evicted = append(evicted, ev)
	}

	lock2 := s.files.Lock(path)
	e2 := s.files.Get(lock2, path)
	s.currBytes += int64(len(content)) - oldLen
	if s.currBytes > s.peakBytes {
		s.peakBytes = s.currBytes
	}
	e2.Content = content
	e2.WriteAuth = NoClient
	e2.Touch(now)
	lock2.Unlock()

	s.audit(workerID, wire.OpWrite, wire.StatusOK.String(), clientID, path, int64(len(content)), s.currFiles, s.currBytes)
	return wire.Response{Status: wire.StatusOK, Tails: toTails(evicted)}
}

// Append implements spec.md §4.3's append handler.
func (s *Storage) Append(workerID int, clientID ClientID, path string, content []byte) wire.Response {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.files.Lock(path)
	e := s.files.Get(lock, path)
	if e == nil {
		lock.Unlock()
		s.audit(workerID, wire.OpAppend, wire.StatusFileNotExists.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusFileNotExists)
	}
	permitted := e.IsOpener(clientID) && (e.LockHolder == NoClient || e.LockHolder == clientID)
	if !permitted {
		lock.Unlock()
		s.audit(workerID, wire.OpAppend, wire.StatusOperationNotPermitted.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusOperationNotPermitted)
	}
	if int64(len(content)) > s.maxBytes {
		lock.Unlock()
		s.audit(workerID, wire.OpAppend, wire.StatusTooLongContent.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusTooLongContent)
	}
	lock.Unlock()

	var evicted []EvictedFile
	for s.currBytes+int64(len(content)) > s.maxBytes {
		ev, ok := s.evictOneExcludingLocked(path, now)
		if !ok {
			s.audit(workerID, wire.OpAppend, wire.StatusCouldNotEvict.String(), clientID, path, 0, s.currFiles, s.currBytes)
			return resp(wire.StatusCouldNotEvict)
		}
		evicted = append(evicted, ev)
	}

	lock2 := s.files.Lock(path)
	e2 := s.files.Get(lock2, path)
	e2.Content = append(e2.Content, content...)
	s.currBytes += int64(len(content))
	if s.currBytes > s.peakBytes {
		s.peakBytes = s.currBytes
	}
	e2.Touch(now)
	lock2.Unlock()

	s.audit(workerID, wire.OpAppend, wire.StatusOK.String(), clientID, path, int64(len(content)), s.currFiles, s.currBytes)
	return wire.Response{Status: wire.StatusOK, Tails: toTails(evicted)}
}

// Lock implements spec.md §4.3's lock handler (distinct from the
// open-with-lock path, which applies the same suspend-on-contention rule
// in its own code inside Open).
func (s *Storage) Lock(workerID int, clientID ClientID, path string) (wire.Response, bool) {
	files, bytes := s.snapshotCounters()
	lock := s.files.Lock(path)
	e := s.files.Get(lock, path)
	if e == nil {
		lock.Unlock()
		s.audit(workerID, wire.OpLock, wire.StatusFileNotExists.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusFileNotExists), false
	}
	if !e.IsOpener(clientID) {
		lock.Unlock()
		s.audit(workerID, wire.OpLock, wire.StatusOperationNotPermitted.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusOperationNotPermitted), false
	}
	if e.LockHolder == clientID {
		lock.Unlock()
		s.audit(workerID, wire.OpLock, wire.StatusFileAlreadyLocked.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusFileAlreadyLocked), false
	}
	if e.LockHolder == NoClient {
		e.LockHolder = clientID
		s.addLockedRef(clientID, path)
		lock.Unlock()
		s.audit(workerID, wire.OpLock, wire.StatusOK.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusOK), false
	}
	e.EnqueueWaiter(clientID)
	lock.Unlock()
	s.audit(workerID, wire.OpLock, logaudit.OutcomeClientIsWaiting, clientID, path, 0, files, bytes)
	return wire.Response{}, true
}

// Unlock implements spec.md §4.3's unlock handler, including the lock
// handoff to the next waiter. If the handoff's new holder turns out to be
// unreachable, its id is returned so the caller can drive the disconnect
// cascade for it.
func (s *Storage) Unlock(workerID int, clientID ClientID, path string) (wire.Response, ClientID, bool) {
	lock := s.files.Lock(path)
	e := s.files.Get(lock, path)
	if e == nil {
		lock.Unlock()
		files, bytes := s.snapshotCounters()
		s.audit(workerID, wire.OpUnlock, wire.StatusFileNotExists.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusFileNotExists), NoClient, false
	}
	if e.LockHolder != clientID {
		lock.Unlock()
		files, bytes := s.snapshotCounters()
		s.audit(workerID, wire.OpUnlock, wire.StatusOperationNotPermitted.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusOperationNotPermitted), NoClient, false
	}
	if e.WriteAuth == clientID {
		e.WriteAuth = NoClient
	}
	s.removeLockedRef(clientID, path)
	gone, hadGone := s.handoff(e, lock) // unlocks e's shard

	files, bytes := s.snapshotCounters()
	s.audit(workerID, wire.OpUnlock, wire.StatusOK.String(), clientID, path, 0, files, bytes)
	return resp(wire.StatusOK), gone, hadGone
}

// Close implements spec.md §4.3's close handler.
func (s *Storage) Close(workerID int, clientID ClientID, path string) (wire.Response, ClientID, bool) {
	lock := s.files.Lock(path)
	e := s.files.Get(lock, path)
	if e == nil {
		lock.Unlock()
		files, bytes := s.snapshotCounters()
		s.audit(workerID, wire.OpClose, wire.StatusFileNotExists.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusFileNotExists), NoClient, false
	}
	if !e.IsOpener(clientID) {
		lock.Unlock()
		files, bytes := s.snapshotCounters()
		s.audit(workerID, wire.OpClose, wire.StatusOperationNotPermitted.String(), clientID, path, 0, files, bytes)
		return resp(wire.StatusOperationNotPermitted), NoClient, false
	}

	e.RemoveOpener(clientID)
	s.removeOpenedRef(clientID, path)
	if e.WriteAuth == clientID {
		e.WriteAuth = NoClient
	}

	var gone ClientID = NoClient
	var hadGone bool
	if e.LockHolder == clientID {
		s.removeLockedRef(clientID, path)
		gone, hadGone = s.handoff(e, lock) // unlocks
	} else {
		lock.Unlock()
	}

	files, bytes := s.snapshotCounters()
	s.audit(workerID, wire.OpClose, wire.StatusOK.String(), clientID, path, 0, files, bytes)
	return resp(wire.StatusOK), gone, hadGone
}

// Remove implements spec.md §4.3's remove handler. Pending waiters are sent
// OPERATION_NOT_PERMITTED on their resume channels, since the file no
// longer exists, and their ids are returned. A failed delivery to a waiter
// is ignored here; it is not treated as a disconnect.
func (s *Storage) Remove(workerID int, clientID ClientID, path string) (wire.Response, []ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.files.Lock(path)
	e := s.files.Get(lock, path)
	if e == nil {
		lock.Unlock()
		s.audit(workerID, wire.OpRemove, wire.StatusFileNotExists.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusFileNotExists), nil
	}
	if e.LockHolder != clientID {
		lock.Unlock()
		s.audit(workerID, wire.OpRemove, wire.StatusOperationNotPermitted.String(), clientID, path, 0, s.currFiles, s.currBytes)
		return resp(wire.StatusOperationNotPermitted), nil
	}

	waiters := append([]ClientID(nil), e.Waiters...)
	openers := make([]ClientID, 0, len(e.Openers))
	for id := range e.Openers {
		openers = append(openers, id)
	}
	size := int64(len(e.Content))
	s.files.Remove(lock, path)
	lock.Unlock()

	s.removeFromOrder(path)
	s.currFiles--
	s.currBytes -= size

	for _, id := range openers {
		s.removeOpenedRef(id, path)
		s.removeLockedRef(id, path)
	}

	for _, w := range waiters {
		s.deliver(w, Outcome{Response: resp(wire.StatusOperationNotPermitted), Op: wire.OpLock})
	}

	s.audit(workerID, wire.OpRemove, wire.StatusOK.String(), clientID, path, 0, s.currFiles, s.currBytes)
	return resp(wire.StatusOK), waiters
}

// Disconnect runs the work-queue-driven cascade from spec.md §4.6 for a
// client that has become unreachable. It is idempotent and bounded by the
// set of clients actually reachable through lock handoffs.
func (s *Storage) Disconnect(clientID ClientID) {
	pending := []ClientID{clientID}
	seen := map[ClientID]bool{}

	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		cl := s.clients.Lock(id)
		entry := s.clients.Get(cl, id)
		var locked, opened []string
		if entry != nil {
			locked = mapKeys(entry.Locked)
			opened = mapKeys(entry.Opened)
		}
		s.clients.Remove(cl, id)
		cl.Unlock()
		s.UnregisterResume(id)

		for _, path := range locked {
			lock := s.files.Lock(path)
			e := s.files.Get(lock, path)
			if e == nil {
				lock.Unlock()
				continue
			}
			gone, hadGone := s.handoff(e, lock) // unlocks
			if hadGone {
				pending = append(pending, gone)
			}
		}

		for _, path := range opened {
			lock := s.files.Lock(path)
			if e := s.files.Get(lock, path); e != nil {
				e.RemoveOpener(id)
				e.RemoveWaiter(id)
			}
			lock.Unlock()
		}

		if s.opslog != nil {
			s.opslog.WithField("client_id", int64(id)).Debug("disconnect cascade processed client")
		}
	}
}

// handoff implements spec.md §4.4. Caller must hold e's shard lock via
// lock; handoff always releases it. Returns the id of a newly-promoted
// holder that turned out unreachable, if delivery failed.
func (s *Storage) handoff(e *FileEntry, lock *ShardLock) (ClientID, bool) {
	next, ok := e.DequeueWaiter()
	if !ok {
		e.LockHolder = NoClient
		lock.Unlock()
		return NoClient, false
	}
	e.LockHolder = next
	s.addLockedRef(next, e.Path)
	lock.Unlock()

	delivered := s.deliver(next, Outcome{Response: resp(wire.StatusOK), Op: wire.OpLock})
	if !delivered {
		return next, true
	}
	return NoClient, false
}

// evictOneExcludingLocked evicts a single candidate under s.policy,
// excluding excludePath. Caller must hold s.mu. On each retry it rescans
// the full insertion order fresh, since the previously selected victim may
// have been locked by a concurrent request between selection and removal.
func (s *Storage) evictOneExcludingLocked(excludePath string, now time.Time) (EvictedFile, bool) {
	for attempt := 0; attempt < maxEvictionAttempts; attempt++ {
		var candidates []*FileEntry
		for _, e := range s.order {
			if e.Path == excludePath {
				continue
			}
			lock := s.files.Lock(e.Path)
			locked := e.LockHolder != NoClient
			lock.Unlock()
			if !locked {
				candidates = append(candidates, e)
			}
		}

		idx := selectVictim(s.policy, candidates, now)
		if idx < 0 {
			return EvictedFile{}, false
		}
		victim := candidates[idx]

		lock := s.files.Lock(victim.Path)
		if victim.LockHolder != NoClient || !s.files.Contains(lock, victim.Path) {
			lock.Unlock()
			continue
		}
		s.files.Remove(lock, victim.Path)
		lock.Unlock()

		s.removeFromOrder(victim.Path)
		s.currFiles--
		s.currBytes -= int64(len(victim.Content))
		s.evictions++
		return EvictedFile{Path: victim.Path, Content: victim.Content}, true
	}
	return EvictedFile{}, false
}

// rescaleIfNeeded implements spec.md §4.5's counter-overflow note: when
// any entry's usage counter nears overflow, every entry's counter is
// scaled down by rescaleFactor to preserve relative order. Invoked
// periodically by Watchdog rather than on every Touch, since it requires
// walking every entry.
func (s *Storage) rescaleIfNeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	needsRescale := false
	for _, e := range s.order {
		if e.UseCount >= rescaleThreshold {
			needsRescale = true
			break
		}
	}
	if !needsRescale {
		return
	}
	for _, e := range s.order {
		lock := s.files.Lock(e.Path)
		e.UseCount = uint64(float64(e.UseCount) * rescaleFactor)
		lock.Unlock()
	}
	if s.opslog != nil {
		s.opslog.Info("rescaled file usage counters to avoid overflow")
	}
}

func (s *Storage) removeFromOrder(path string) {
	for i, e := range s.order {
		if e.Path == path {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Storage) addOpenedRef(id ClientID, path string) {
	cl := s.clients.Lock(id)
	defer cl.Unlock()
	e := s.clients.GetOrCreate(cl, id)
	e.Opened[path] = struct{}{}
}

func (s *Storage) addLockedRef(id ClientID, path string) {
	cl := s.clients.Lock(id)
	defer cl.Unlock()
	e := s.clients.GetOrCreate(cl, id)
	e.Locked[path] = struct{}{}
}

func (s *Storage) removeOpenedRef(id ClientID, path string) {
	cl := s.clients.Lock(id)
	defer cl.Unlock()
	if e := s.clients.Get(cl, id); e != nil {
		delete(e.Opened, path)
	}
}

func (s *Storage) removeLockedRef(id ClientID, path string) {
	cl := s.clients.Lock(id)
	defer cl.Unlock()
	if e := s.clients.Get(cl, id); e != nil {
		delete(e.Locked, path)
	}
}

func mapKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func toTails(evicted []EvictedFile) []wire.ResponseFile {
	if len(evicted) == 0 {
		return nil
	}
	out := make([]wire.ResponseFile, len(evicted))
	for i, e := range evicted {
		out[i] = wire.ResponseFile{Path: e.Path, Content: e.Content}
	}
	return out
}

package store

import (
	"testing"
	"time"

	"github.com/dreamware/filestore/internal/wire"
)

func newTestStorage(maxFiles int, maxBytes int64, policy Policy) *Storage {
	return NewStorage(Config{
		MaxFileNum:      maxFiles,
		MaxBytes:        maxBytes,
		MaxLocks:        8,
		ExpectedClients: 8,
		EvictionPolicy:  policy,
	}, nil, nil)
}

// TestEndToEndScenario reproduces the two-client walkthrough: max_files=2,
// max_bytes=10, FIFO policy, client A=7 and client B=9.
func TestEndToEndScenario(t *testing.T) {
	s := newTestStorage(2, 10, PolicyFIFO)
	const A, B ClientID = 7, 9

	s.AddClient(A)
	s.AddClient(B)
	s.RegisterResume(A)
	bResume := s.RegisterResume(B)

	// 1. A creates+locks /a, writes "hello".
	if r, suspended := s.Open(1, A, "/a", wire.OpOpenCreateLock); r.Status != wire.StatusOK || suspended {
		t.Fatalf("A open /a create+lock = %v suspended=%v", r.Status, suspended)
	}
	r := s.Write(1, A, "/a", []byte("hello"))
	if r.Status != wire.StatusOK || len(r.Tails) != 0 {
		t.Fatalf("A write /a = %v tails=%v", r.Status, r.Tails)
	}
	if files, bytes := s.snapshotCounters(); files != 1 || bytes != 5 {
		t.Fatalf("after step 1: files=%d bytes=%d, want 1,5", files, bytes)
	}

	// 2. B opens /a plain; its read is refused while A holds the lock.
	if r, suspended := s.Open(1, B, "/a", wire.OpOpenNoFlags); r.Status != wire.StatusOK || suspended {
		t.Fatalf("B open /a = %v suspended=%v", r.Status, suspended)
	}
	if r := s.Read(1, B, "/a"); r.Status != wire.StatusOperationNotPermitted {
		t.Fatalf("B read /a while locked by A = %v, want OPERATION_NOT_PERMITTED", r.Status)
	}

	// 3. B tries to lock /a: suspended. A unlocks: B's resume channel fires.
	if _, suspended := s.Lock(1, B, "/a"); !suspended {
		t.Fatal("B lock /a should suspend (held by A)")
	}
	resp, gone, hadGone := s.Unlock(1, A, "/a")
	if resp.Status != wire.StatusOK || hadGone {
		t.Fatalf("A unlock /a = %v gone=%v hadGone=%v", resp.Status, gone, hadGone)
	}
	select {
	case outcome := <-bResume:
		if outcome.Response.Status != wire.StatusOK {
			t.Fatalf("B handoff outcome = %v, want OK", outcome.Response.Status)
		}
	default:
		t.Fatal("expected B's resume channel to receive the lock handoff")
	}
	// B now holds the lock and can read A's payload.
	if r := s.Read(1, B, "/a"); r.Status != wire.StatusOK || string(r.Content) != "hello" {
		t.Fatalf("B read /a = %v content=%q", r.Status, r.Content)
	}

	// 4. A creates+locks /b, appends; A's create of /c fails (nothing
	// evictable: /a held by B, /b held by A).
	if r, _ := s.Open(1, A, "/b", wire.OpOpenCreateLock); r.Status != wire.StatusOK {
		t.Fatalf("A open /b create+lock = %v", r.Status)
	}
	if r := s.Append(1, A, "/b", []byte("xyz")); r.Status != wire.StatusOK {
		t.Fatalf("A append /b = %v", r.Status)
	}
	if r, _ := s.Open(1, A, "/c", wire.OpOpenCreateLock); r.Status != wire.StatusCouldNotEvict {
		t.Fatalf("A open /c create+lock = %v, want COULD_NOT_EVICT", r.Status)
	}
	if files, _ := s.snapshotCounters(); files != 2 {
		t.Fatalf("files after failed create = %d, want 2 (unchanged)", files)
	}

	// 5. B closes /a (no waiters, unlocks). A's create of /c now succeeds
	// and FIFO-evicts /a; the open response carries only a status, not the
	// evicted payload.
	if r, gone, hadGone := s.Close(1, B, "/a"); r.Status != wire.StatusOK || hadGone {
		t.Fatalf("B close /a = %v gone=%v hadGone=%v", r.Status, gone, hadGone)
	}
	r = s.openCreate(1, A, "/c", true, time.Now())
	if r.Status != wire.StatusOK {
		t.Fatalf("A create+lock /c (after close) = %v", r.Status)
	}
	// openCreate doesn't return evicted files directly in this API; verify
	// eviction happened via stats instead.
	stats := s.Stats()
	if stats.Evictions != 1 {
		t.Fatalf("Evictions = %d, want 1", stats.Evictions)
	}
	found := false
	for _, p := range stats.ResidentFiles {
		if p == "/a" {
			found = true
		}
	}
	if found {
		t.Fatal("/a should have been evicted")
	}
}

// TestDisconnectCascadeClearsState covers scenario 6: a client holding a
// lock with no waiters disconnects, leaving the file unlocked and the
// client's registry entry gone.
func TestDisconnectCascadeClearsState(t *testing.T) {
	s := newTestStorage(4, 100, PolicyFIFO)
	const A ClientID = 7

	s.AddClient(A)
	s.RegisterResume(A)

	if r, _ := s.Open(1, A, "/b", wire.OpOpenCreateLock); r.Status != wire.StatusOK {
		t.Fatalf("open /b create+lock = %v", r.Status)
	}
	if r, _ := s.Open(1, A, "/c", wire.OpOpenCreate); r.Status != wire.StatusOK {
		t.Fatalf("open /c create = %v", r.Status)
	}

	s.Disconnect(A)

	lock := s.files.Lock("/b")
	eb := s.files.Get(lock, "/b")
	if eb == nil || eb.LockHolder != NoClient {
		t.Fatalf("/b lock holder after disconnect = %v, want NoClient", eb.LockHolder)
	}
	if len(eb.Openers) != 0 {
		t.Fatalf("/b openers after disconnect = %v, want empty", eb.Openers)
	}
	lock.Unlock()

	lock = s.files.Lock("/c")
	ec := s.files.Get(lock, "/c")
	if ec == nil || len(ec.Openers) != 0 {
		t.Fatalf("/c openers after disconnect = %v, want empty", ec.Openers)
	}
	lock.Unlock()

	cl := s.clients.Lock(A)
	entry := s.clients.Get(cl, A)
	cl.Unlock()
	if entry != nil {
		t.Fatal("client registry entry should be gone after disconnect")
	}
}

func TestWriteTooLongContentRejectedWithoutEviction(t *testing.T) {
	s := newTestStorage(2, 4, PolicyFIFO)
	const A ClientID = 1
	s.AddClient(A)

	if r, _ := s.Open(1, A, "/a", wire.OpOpenCreateLock); r.Status != wire.StatusOK {
		t.Fatalf("open create+lock = %v", r.Status)
	}
	if r := s.Write(1, A, "/a", []byte("toolong")); r.Status != wire.StatusTooLongContent {
		t.Fatalf("write too-long content = %v, want TOO_LONG_CONTENT", r.Status)
	}
	if stats := s.Stats(); stats.Evictions != 0 {
		t.Fatalf("Evictions = %d, want 0", stats.Evictions)
	}
}

func TestCreateWhenFullAndAllLockedFailsCleanly(t *testing.T) {
	s := newTestStorage(1, 100, PolicyFIFO)
	const A ClientID = 1
	s.AddClient(A)

	if r, _ := s.Open(1, A, "/a", wire.OpOpenCreateLock); r.Status != wire.StatusOK {
		t.Fatalf("open create+lock /a = %v", r.Status)
	}
	if r, _ := s.Open(1, A, "/b", wire.OpOpenCreateLock); r.Status != wire.StatusCouldNotEvict {
		t.Fatalf("open create+lock /b = %v, want COULD_NOT_EVICT", r.Status)
	}
	if files, _ := s.snapshotCounters(); files != 1 {
		t.Fatalf("files = %d, want 1 (unchanged)", files)
	}
}

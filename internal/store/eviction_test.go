package store

import (
	"testing"
	"time"
)

func makeEntry(path string, useCount uint64, lastUse time.Time, size int) *FileEntry {
	e := NewFileEntry(path, lastUse)
	e.UseCount = useCount
	e.LastUse = lastUse
	e.Content = make([]byte, size)
	return e
}

func TestSelectVictimFIFOPicksFirst(t *testing.T) {
	now := time.Now()
	candidates := []*FileEntry{
		makeEntry("/a", 5, now, 10),
		makeEntry("/b", 1, now, 1),
	}
	if idx := selectVictim(PolicyFIFO, candidates, now); idx != 0 {
		t.Errorf("FIFO selected index %d, want 0", idx)
	}
}

func TestSelectVictimLRUPicksOldestLastUse(t *testing.T) {
	now := time.Now()
	candidates := []*FileEntry{
		makeEntry("/a", 1, now.Add(-1*time.Minute), 1),
		makeEntry("/b", 1, now.Add(-10*time.Minute), 1),
		makeEntry("/c", 1, now, 1),
	}
	if idx := selectVictim(PolicyLRU, candidates, now); idx != 1 {
		t.Errorf("LRU selected index %d, want 1 (/b)", idx)
	}
}

func TestSelectVictimLFUPicksLowestUseCount(t *testing.T) {
	now := time.Now()
	candidates := []*FileEntry{
		makeEntry("/a", 10, now, 1),
		makeEntry("/b", 2, now, 1),
		makeEntry("/c", 7, now, 1),
	}
	if idx := selectVictim(PolicyLFU, candidates, now); idx != 1 {
		t.Errorf("LFU selected index %d, want 1 (/b)", idx)
	}
}

func TestSelectVictimLWPrefersRarelyUsedIdleLarge(t *testing.T) {
	now := time.Now()
	candidates := []*FileEntry{
		makeEntry("/hot", 1000, now, 1_000_000),
		makeEntry("/cold", 1, now.Add(-time.Hour), 1_000_000),
	}
	if idx := selectVictim(PolicyLW, candidates, now); idx != 1 {
		t.Errorf("LW selected index %d, want 1 (/cold)", idx)
	}
}

func TestSelectVictimEmptyCandidates(t *testing.T) {
	if idx := selectVictim(PolicyFIFO, nil, time.Now()); idx != -1 {
		t.Errorf("selectVictim(nil) = %d, want -1", idx)
	}
}

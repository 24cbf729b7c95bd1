package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dreamware/filestore/internal/wire"
)

func TestStatsSnapshotMatchesExpected(t *testing.T) {
	s := newTestStorage(3, 100, PolicyFIFO)
	const A ClientID = 1
	s.AddClient(A)

	if r, _ := s.Open(1, A, "/z", wire.OpOpenCreate); r.Status != wire.StatusOK {
		t.Fatalf("open /z = %v", r.Status)
	}
	if r, _ := s.Open(1, A, "/a", wire.OpOpenCreate); r.Status != wire.StatusOK {
		t.Fatalf("open /a = %v", r.Status)
	}

	got := s.Stats()
	want := Stats{
		CurrFiles:     2,
		CurrBytes:     0,
		PeakFiles:     2,
		PeakBytes:     0,
		Evictions:     0,
		ResidentFiles: []string{"/a", "/z"}, // sorted, not insertion order
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

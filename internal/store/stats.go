package store

import "golang.org/x/exp/slices"

// Stats is the shutdown/monitoring snapshot from spec.md §6: peak file
// count, peak byte count, number of evictions performed, and the list of
// files still resident.
type Stats struct {
	CurrFiles     int
	CurrBytes     int64
	PeakFiles     int
	PeakBytes     int64
	Evictions     int
	ResidentFiles []string
}

// Stats takes a point-in-time snapshot under the aggregate mutex.
func (s *Storage) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, len(s.order))
	for i, e := range s.order {
		paths[i] = e.Path
	}
	slices.Sort(paths)
	return Stats{
		CurrFiles:     s.currFiles,
		CurrBytes:     s.currBytes,
		PeakFiles:     s.peakFiles,
		PeakBytes:     s.peakBytes,
		Evictions:     s.evictions,
		ResidentFiles: paths,
	}
}

package store

import "time"

// Policy names one of the pluggable eviction strategies from spec.md §4.5.
// It is a distinct type from config.EvictionPolicy so this package does
// not import internal/config.
type Policy string

const (
	PolicyFIFO Policy = "FIFO"
	PolicyLRU  Policy = "LRU"
	PolicyLFU  Policy = "LFU"
	PolicyLW   Policy = "LW"
)

// selectVictim picks the index within candidates to evict under policy.
// candidates must already be filtered to unlocked, non-target entries and,
// for FIFO, presented in insertion order. Returns -1 if candidates is
// empty.
func selectVictim(policy Policy, candidates []*FileEntry, now time.Time) int {
	if len(candidates) == 0 {
		return -1
	}
	switch policy {
	case PolicyLRU:
		best := 0
		for i := 1; i < len(candidates); i++ {
			if candidates[i].LastUse.Before(candidates[best].LastUse) {
				best = i
			}
		}
		return best
	case PolicyLFU:
		best := 0
		for i := 1; i < len(candidates); i++ {
			if candidates[i].UseCount < candidates[best].UseCount {
				best = i
			}
		}
		return best
	case PolicyLW:
		best := 0
		bestScore := weightedScore(candidates[0], now)
		for i := 1; i < len(candidates); i++ {
			if s := weightedScore(candidates[i], now); s > bestScore {
				best, bestScore = i, s
			}
		}
		return best
	default: // PolicyFIFO
		return 0
	}
}

// weightedScore combines inverse usage, idle time, and size into a single
// "how evictable" figure for the Least-Weighted policy: higher means a
// better eviction candidate. A rarely-used, long-idle, large file scores
// high.
func weightedScore(e *FileEntry, now time.Time) float64 {
	usage := float64(e.UseCount)
	if usage < 1 {
		usage = 1
	}
	idle := now.Sub(e.LastUse).Seconds()
	if idle < 0 {
		idle = 0
	}
	return 1/usage + idle + float64(len(e.Content))
}

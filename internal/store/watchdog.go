package store

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// highUtilizationThreshold is the fraction of max_file_num / max_bytes
// above which Watchdog logs a warning.
const highUtilizationThreshold = 0.9

// rescaleThreshold and rescaleFactor implement spec.md §4.5's usage
// counter overflow note: a generous margin below any realistic overflow
// point, checked periodically rather than on every touch.
const (
	rescaleThreshold uint64  = 1 << 32
	rescaleFactor    float64 = 0.5
)

// Watchdog is the capacity monitor SPEC_FULL.md §2 adds, adapted from the
// teacher's ticker-driven health monitor: instead of polling remote node
// liveness, it polls the local storage engine's own utilization and usage
// counters.
type Watchdog struct {
	storage  *Storage
	log      *logrus.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchdog builds a watchdog that checks storage every interval (30s if
// interval <= 0).
func NewWatchdog(s *Storage, log *logrus.Logger, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watchdog{storage: s, log: log, interval: interval}
}

// Start runs the watchdog loop in a background goroutine until ctx is
// cancelled or Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watchdog) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	stats := w.storage.Stats()

	if w.storage.maxFiles > 0 {
		if ratio := float64(stats.CurrFiles) / float64(w.storage.maxFiles); ratio >= highUtilizationThreshold {
			w.log.WithField("curr_files", stats.CurrFiles).
				WithField("max_files", w.storage.maxFiles).
				Warn("file count near capacity")
		}
	}
	if w.storage.maxBytes > 0 {
		if ratio := float64(stats.CurrBytes) / float64(w.storage.maxBytes); ratio >= highUtilizationThreshold {
			w.log.WithField("curr_bytes", stats.CurrBytes).
				WithField("max_bytes", w.storage.maxBytes).
				Warn("byte usage near capacity")
		}
	}

	w.storage.rescaleIfNeeded()
}

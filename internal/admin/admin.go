// Package admin implements the optional, read-only HTTP monitoring surface
// SPEC_FULL.md §4.12 adds, directly adapted from the teacher's cmd/node
// "/info" and "/shard/*/stats" handlers: a health probe and a JSON stats
// snapshot, bound to a separate address from the storage socket and never
// touching storage state.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/filestore/internal/store"
)

// StatsSource is the read-only view of the storage engine the admin
// surface depends on — satisfied by *server.Server without importing it
// (which would create an import cycle, since server already depends on
// store and would otherwise need to depend on admin too).
type StatsSource interface {
	Stats() store.Stats
}

// Server is the admin HTTP surface.
type Server struct {
	http *http.Server
	log  *logrus.Logger
}

// New builds an admin server bound to addr. ready is polled by /healthz;
// it should report true once the storage socket is accepting connections.
func New(addr string, source StatsSource, ready func() bool, log *logrus.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := source.Stats()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil && log != nil {
			log.WithError(err).Warn("admin: failed to encode /stats response")
		}
	})

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start runs ListenAndServe in a background goroutine. Bind failures are
// logged, not returned, since the admin surface is optional and must never
// block startup of the real storage socket.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.WithError(err).Error("admin server stopped")
			}
		}
	}()
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Package opslog configures the server's operational logger: process
// lifecycle, connection accept/drop, eviction decisions, and any error
// that does not itself produce an audit record. It is kept deliberately
// separate from internal/logaudit, which owns the append-only per-request
// CSV record — opslog is for humans tailing stderr, logaudit is for the
// machine-readable trail spec.md §6 mandates.
package opslog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger writing structured text lines to out (or
// os.Stderr if out is nil), at the given level name. An unrecognized
// level falls back to Info rather than failing startup over a typo in a
// config file.
func New(out io.Writer, level string) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log
}

// WithWorker returns a logger entry tagged with the pool worker that is
// about to handle a request, matching the thread_id column in the audit
// record for the same request.
func WithWorker(log *logrus.Logger, workerID int) *logrus.Entry {
	return log.WithField("worker_id", workerID)
}

// WithClient returns a logger entry tagged with the connection's client
// id, assigned at accept time.
func WithClient(log *logrus.Logger, clientID int64) *logrus.Entry {
	return log.WithField("client_id", clientID)
}

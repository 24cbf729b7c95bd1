package logaudit

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// Special outcome markers used instead of a response status (spec.md §4.3,
// §4.4): a request that suspended on a lock waiter queue, and the handoff
// path that later resumes it.
const (
	OutcomeClientIsWaiting = "CLIENT_IS_WAITING"
	OutcomeOpSuspended     = "OP_SUSPENDED"
)

// MasterThreadID is reserved for records logged by the master dispatch
// loop itself rather than a pool worker (spec.md §6).
const MasterThreadID = 0

// header is written exactly once, when the sink is opened.
var header = []string{
	"time", "thread_id", "operation", "outcome", "client_id",
	"file", "bytes_processed", "curr_files", "curr_bytes", "curr_clients",
}

// Record is one audit-log line: worker id, request code, response code or
// special marker, client id, path, bytes touched, and current totals.
type Record struct {
	Time           time.Time
	Operation      string
	Outcome        string
	File           string
	ThreadID       int
	ClientID       int64
	BytesProcessed int64
	CurrFiles      int
	CurrBytes      int64
	CurrClients    int
}

// Logger is a serialized, append-only CSV record writer. The zero value is
// not usable; construct with Open.
type Logger struct {
	w      *csv.Writer
	closer io.Closer
	mu     sync.Mutex
}

// Open creates or truncates the file at path, writes the CSV header, and
// returns a Logger ready for concurrent use by every worker and the
// master.
func Open(path string) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("logaudit: open %s: %w", path, err)
	}

	l := &Logger{w: csv.NewWriter(f), closer: f}
	if err := l.w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("logaudit: write header: %w", err)
	}
	l.w.Flush()
	return l, nil
}

// Log appends one record. A write failure is reported to the caller as an
// error (so it can be surfaced as an operational-log warning per the
// logger contract) but never panics and never blocks other callers for
// longer than the single Flush.
func (l *Logger) Log(rec Record) error {
	row := []string{
		rec.Time.Format(time.RFC3339Nano),
		strconv.Itoa(rec.ThreadID),
		rec.Operation,
		rec.Outcome,
		strconv.FormatInt(rec.ClientID, 10),
		rec.File,
		strconv.FormatInt(rec.BytesProcessed, 10),
		strconv.Itoa(rec.CurrFiles),
		strconv.FormatInt(rec.CurrBytes, 10),
		strconv.Itoa(rec.CurrClients),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("logaudit: write record: %w", err)
	}
	l.w.Flush()
	return l.w.Error()
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.closer.Close()
}

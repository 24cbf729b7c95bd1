package server

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/filestore/internal/opslog"
	"github.com/dreamware/filestore/internal/pool"
	"github.com/dreamware/filestore/internal/store"
	"github.com/dreamware/filestore/internal/wire"
)

// Server owns the listen socket, the worker pool, and the set of live
// connection watchers. It has no knowledge of signals — cmd/server decides
// graceful vs. immediate shutdown and calls Shutdown accordingly.
type Server struct {
	storage *store.Storage
	pool    *pool.Pool
	opslog  *logrus.Logger

	listener net.Listener
	nextID   int64

	mu    sync.Mutex
	conns map[store.ClientID]net.Conn

	connWG sync.WaitGroup
}

// New builds a Server with workers pool workers and queueCap task-queue
// capacity (0 = unbounded, per spec.md §6's dim_workers_queue default).
func New(storage *store.Storage, workers, queueCap int, opslog *logrus.Logger) *Server {
	return &Server{
		storage: storage,
		pool:    pool.New(workers, queueCap),
		opslog:  opslog,
		conns:   make(map[store.ClientID]net.Conn),
	}
}

// Serve listens on the Unix socket at path and blocks accepting
// connections until the listener is closed by Shutdown.
func (srv *Server) Serve(path string) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	srv.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		id := store.ClientID(atomic.AddInt64(&srv.nextID, 1))
		srv.storage.AddClient(id)
		resumeCh := srv.storage.RegisterResume(id)

		srv.mu.Lock()
		srv.conns[id] = conn
		srv.mu.Unlock()

		srv.connWG.Add(1)
		go srv.watch(conn, id, resumeCh)
	}
}

type taskResult struct {
	resp      wire.Response
	suspended bool
}

// watch is the connection watcher goroutine: it reads one request, submits
// it to the pool, and waits for either the task's own response or — if the
// request suspended on a contended lock — the later handoff outcome
// delivered on resumeCh, before reading the next request.
func (srv *Server) watch(conn net.Conn, id store.ClientID, resumeCh chan store.Outcome) {
	defer srv.connWG.Done()
	defer srv.closeConn(conn, id)

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if status, ok := protocolStatus(err); ok {
				_ = wire.WriteResponse(conn, 0, wire.Response{Status: status})
			}
			return
		}

		done := make(chan taskResult, 1)
		res := srv.pool.Submit(func(workerID int) {
			resp, suspended := srv.handle(workerID, id, req)
			done <- taskResult{resp, suspended}
		})
		if res != pool.Accepted {
			if srv.opslog != nil {
				opslog.WithClient(srv.opslog, int64(id)).Warn("request rejected: worker pool at capacity")
			}
			if err := wire.WriteResponse(conn, req.Op, wire.Response{Status: wire.StatusTemporarilyUnavailable}); err != nil {
				return
			}
			continue
		}

		r := <-done
		if r.suspended {
			outcome := <-resumeCh
			if outcome.Drop {
				return
			}
			if err := wire.WriteResponse(conn, outcome.Op, outcome.Response); err != nil {
				return
			}
			continue
		}

		if err := wire.WriteResponse(conn, req.Op, r.resp); err != nil {
			return
		}
		if r.resp.Status.IsProtocolError() {
			return
		}
	}
}

func (srv *Server) closeConn(conn net.Conn, id store.ClientID) {
	conn.Close()

	srv.mu.Lock()
	delete(srv.conns, id)
	srv.mu.Unlock()

	srv.storage.UnregisterResume(id)
	srv.storage.Disconnect(id)

	if srv.opslog != nil {
		opslog.WithClient(srv.opslog, int64(id)).Info("connection closed")
	}
}

// Shutdown stops accepting new connections and waits for every connection
// watcher to exit. If immediate is true, every live connection is closed
// right away (abandoning in-flight requests); otherwise Shutdown waits for
// clients to disconnect on their own, bounded by ctx.
func (srv *Server) Shutdown(ctx context.Context, immediate bool) error {
	if srv.listener != nil {
		srv.listener.Close()
	}

	if immediate {
		srv.mu.Lock()
		conns := make([]net.Conn, 0, len(srv.conns))
		for _, c := range srv.conns {
			conns = append(conns, c)
		}
		srv.mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		srv.connWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		srv.pool.Shutdown()
		return ctx.Err()
	}

	srv.pool.Shutdown()
	return nil
}

// Stats exposes the storage engine's snapshot for the admin surface and
// shutdown reporting.
func (srv *Server) Stats() store.Stats {
	return srv.storage.Stats()
}

// protocolStatus maps a wire read error to the response code the server
// must send before closing the connection, per spec.md §7. Errors that are
// not protocol violations (EOF, reset) return ok=false: no response is
// sent, the connection is simply dropped.
func protocolStatus(err error) (wire.Status, bool) {
	switch {
	case errors.Is(err, wire.ErrEmptyPath), errors.Is(err, wire.ErrInvalidPath):
		return wire.StatusInvalidPath, true
	case errors.Is(err, wire.ErrPathTooLong):
		return wire.StatusTooLongPath, true
	case errors.Is(err, wire.ErrContentTooLong):
		return wire.StatusTooLongContent, true
	default:
		return 0, false
	}
}

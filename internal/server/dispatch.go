package server

import (
	"github.com/dreamware/filestore/internal/opslog"
	"github.com/dreamware/filestore/internal/store"
	"github.com/dreamware/filestore/internal/wire"
)

// handle dispatches one parsed request to the storage engine and reports
// whether the request suspended on a contended lock. A client id returned
// by the engine as unreachable during a handoff is pushed through the
// disconnect cascade in its own goroutine so the current request's
// response is never delayed by someone else's cleanup.
func (srv *Server) handle(workerID int, id store.ClientID, req wire.Request) (wire.Response, bool) {
	switch req.Op {
	case wire.OpOpenNoFlags, wire.OpOpenCreate, wire.OpOpenLock, wire.OpOpenCreateLock:
		return srv.storage.Open(workerID, id, req.Path, req.Op)

	case wire.OpRead:
		return srv.storage.Read(workerID, id, req.Path), false

	case wire.OpReadN:
		return srv.storage.ReadN(workerID, id, req.N), false

	case wire.OpWrite:
		return srv.storage.Write(workerID, id, req.Path, req.Content), false

	case wire.OpAppend:
		return srv.storage.Append(workerID, id, req.Path, req.Content), false

	case wire.OpLock:
		return srv.storage.Lock(workerID, id, req.Path)

	case wire.OpUnlock:
		resp, gone, hadGone := srv.storage.Unlock(workerID, id, req.Path)
		if hadGone {
			srv.cascadeAsync(gone)
		}
		return resp, false

	case wire.OpClose:
		resp, gone, hadGone := srv.storage.Close(workerID, id, req.Path)
		if hadGone {
			srv.cascadeAsync(gone)
		}
		return resp, false

	case wire.OpRemove:
		resp, _ := srv.storage.Remove(workerID, id, req.Path)
		return resp, false

	default:
		if srv.opslog != nil {
			opslog.WithWorker(srv.opslog, workerID).WithField("client_id", int64(id)).
				Warn("rejected request with unrecognized op")
		}
		return wire.Response{Status: wire.StatusNotRecognizedOp}, false
	}
}

// cascadeAsync runs the disconnect cascade for a client discovered dead
// during a lock handoff, off the current request's goroutine.
func (srv *Server) cascadeAsync(id store.ClientID) {
	go srv.storage.Disconnect(id)
}

// Package integration drives the real wire protocol over a real Unix
// socket against a live server.Server, the way a production client would,
// rather than calling the storage engine in-process.
package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/filestore/internal/logaudit"
	"github.com/dreamware/filestore/internal/opslog"
	"github.com/dreamware/filestore/internal/server"
	"github.com/dreamware/filestore/internal/store"
	"github.com/dreamware/filestore/internal/wire"
)

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, socketPath string) *testClient {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return &testClient{t: t, conn: conn}
}

func (c *testClient) do(req wire.Request) wire.Response {
	c.t.Helper()
	require.NoError(c.t, wire.WriteRequest(c.conn, req))
	resp, err := wire.ReadResponse(c.conn, req.Op)
	require.NoError(c.t, err)
	return resp
}

func (c *testClient) close() {
	c.conn.Close()
}

func startServer(t *testing.T) (socketPath string, srv *server.Server, storage *store.Storage) {
	t.Helper()
	dir := t.TempDir()
	socketPath = filepath.Join(dir, "filestore.sock")

	audit, err := logaudit.Open(filepath.Join(dir, "log.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	ops := opslog.New(os.Stderr, "error")
	storage = store.NewStorage(store.Config{
		MaxFileNum:      4,
		MaxBytes:        1_000_000,
		MaxLocks:        10,
		ExpectedClients: 4,
		EvictionPolicy:  store.PolicyFIFO,
	}, audit, ops)

	srv = server.New(storage, 2, 0, ops)
	go srv.Serve(socketPath)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx, true)
	})
	return socketPath, srv, storage
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	socketPath, _, _ := startServer(t)

	c := dial(t, socketPath)
	defer c.close()

	resp := c.do(wire.Request{Op: wire.OpOpenCreateLock, Path: "/greeting"})
	require.Equal(t, wire.StatusOK, resp.Status)

	resp = c.do(wire.Request{Op: wire.OpWrite, Path: "/greeting", Content: []byte("hello")})
	require.Equal(t, wire.StatusOK, resp.Status)

	resp = c.do(wire.Request{Op: wire.OpRead, Path: "/greeting"})
	require.Equal(t, wire.StatusOK, resp.Status)
	require.Equal(t, []byte("hello"), resp.Content)
}

func TestLockContentionSuspendsAndHandsOff(t *testing.T) {
	socketPath, _, storage := startServer(t)

	a := dial(t, socketPath)
	defer a.close()
	b := dial(t, socketPath)
	defer b.close()

	resp := a.do(wire.Request{Op: wire.OpOpenCreateLock, Path: "/contended"})
	require.Equal(t, wire.StatusOK, resp.Status)

	resp = b.do(wire.Request{Op: wire.OpOpenNoFlags, Path: "/contended"})
	require.Equal(t, wire.StatusOK, resp.Status)

	done := make(chan wire.Response, 1)
	go func() {
		done <- b.do(wire.Request{Op: wire.OpLock, Path: "/contended"})
	}()

	// Give the second client's lock request time to actually suspend
	// server-side before the first client releases.
	time.Sleep(50 * time.Millisecond)

	resp = a.do(wire.Request{Op: wire.OpUnlock, Path: "/contended"})
	require.Equal(t, wire.StatusOK, resp.Status)

	select {
	case resp := <-done:
		require.Equal(t, wire.StatusOK, resp.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("lock handoff to waiting client never completed")
	}

	_ = storage
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	socketPath, _, _ := startServer(t)

	c := dial(t, socketPath)
	defer c.close()

	resp := c.do(wire.Request{Op: wire.OpOpenCreate, Path: "relative/not/absolute"})
	require.True(t, resp.Status.IsProtocolError())
	require.Equal(t, wire.StatusInvalidPath, resp.Status)

	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err := c.conn.Read(buf)
	require.Error(t, err, "server should have closed the connection after a protocol error")
}

func TestEvictionUnderCapacityPressure(t *testing.T) {
	socketPath, _, storage := startServer(t)

	c := dial(t, socketPath)
	defer c.close()

	for _, p := range []string{"/f1", "/f2", "/f3", "/f4"} {
		resp := c.do(wire.Request{Op: wire.OpOpenCreate, Path: p})
		require.Equal(t, wire.StatusOK, resp.Status)
	}

	resp := c.do(wire.Request{Op: wire.OpOpenCreate, Path: "/f5"})
	require.Equal(t, wire.StatusOK, resp.Status)

	stats := storage.Stats()
	require.Equal(t, 1, stats.Evictions)
	require.Len(t, stats.ResidentFiles, 4)
	require.NotContains(t, stats.ResidentFiles, "/f1")
}

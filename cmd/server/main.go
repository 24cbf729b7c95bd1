// Command server runs the file storage service described in spec.md: it
// loads configuration, opens the audit log, starts the storage engine and
// its worker pool, and serves the wire protocol over a local Unix socket
// until told to shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/filestore/internal/admin"
	"github.com/dreamware/filestore/internal/config"
	"github.com/dreamware/filestore/internal/logaudit"
	"github.com/dreamware/filestore/internal/opslog"
	"github.com/dreamware/filestore/internal/server"
	"github.com/dreamware/filestore/internal/store"
)

const watchdogInterval = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var showHelp bool
	flag.StringVarP(&configPath, "config", "c", "", "path to the key=value configuration file")
	flag.BoolVarP(&showHelp, "help", "h", false, "show usage and exit")
	flag.Parse()

	if showHelp {
		flag.Usage()
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	ops := opslog.New(os.Stderr, cfg.LogLevel)

	audit, err := logaudit.Open(cfg.LogFilePath)
	if err != nil {
		ops.WithError(err).Error("failed to open audit log")
		return 1
	}
	defer audit.Close()

	storage := store.NewStorage(store.Config{
		MaxFileNum:      cfg.MaxFileNum,
		MaxBytes:        cfg.MaxBytes,
		MaxLocks:        cfg.MaxLocks,
		ExpectedClients: cfg.ExpectedClients,
		EvictionPolicy:  store.Policy(cfg.EvictionPolicy),
	}, audit, ops)

	srv := server.New(storage, cfg.NWorkers, cfg.QueueCapacity, ops)

	var ready atomic.Bool
	if cfg.AdminListen != "" {
		adminSrv := admin.New(cfg.AdminListen, srv, ready.Load, ops)
		adminSrv.Start()
		defer func() { _ = adminSrv.Shutdown(context.Background()) }()
	}

	watchdog := store.NewWatchdog(storage, ops, watchdogInterval)
	wctx, wcancel := context.WithCancel(context.Background())
	watchdog.Start(wctx)
	defer wcancel()

	group, gctx := errgroup.WithContext(context.Background())
	serveFailed := make(chan struct{})

	group.Go(func() error {
		err := srv.Serve(cfg.SocketPath)
		if err != nil {
			close(serveFailed)
		}
		return err
	})
	ready.Store(true)
	ops.WithField("socket_path", cfg.SocketPath).Info("storage server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	group.Go(func() error {
		var sig os.Signal
		select {
		case sig = <-sigCh:
		case <-gctx.Done():
			return nil
		}
		ready.Store(false)
		immediate := sig != syscall.SIGHUP
		ops.WithField("signal", sig.String()).WithField("immediate", immediate).Info("shutdown requested")

		ctx := context.Background()
		if !immediate {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
		}
		return srv.Shutdown(ctx, immediate)
	})

	err = group.Wait()
	watchdog.Stop()
	printShutdownStats(storage.Stats())

	select {
	case <-serveFailed:
		ops.WithError(err).Error("storage server failed to serve")
		return 1
	default:
	}
	if err != nil {
		ops.WithError(err).Warn("shutdown did not complete cleanly")
	}
	return 0
}

// printShutdownStats implements spec.md §6's shutdown report: peak file
// count, peak byte count, eviction count, and every file still resident.
func printShutdownStats(stats store.Stats) {
	fmt.Printf("peak_files=%d peak_bytes=%d evictions=%d\n", stats.PeakFiles, stats.PeakBytes, stats.Evictions)
	fmt.Println("resident_files:")
	for _, p := range stats.ResidentFiles {
		fmt.Println(" ", p)
	}
}

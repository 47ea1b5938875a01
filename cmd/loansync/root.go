package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/loansync/internal/api"
	"github.com/hyperengineering/loansync/internal/config"
	"github.com/hyperengineering/loansync/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "loansync",
	Short:        "LoanSync - incremental mirror of CMS loan applications",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cursorCmd)
	rootCmd.AddCommand(lockCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// 4. Initialize store, upstream client and orchestrator
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "driver", cfg.Database.Driver)
	slog.Info("orchestrator initialized",
		"targets", a.orch.Targets().IDs(),
		"page_size", cfg.Sync.PageSize,
		"lock_ttl", time.Duration(cfg.Sync.LockTTL).String(),
	)

	// 5. Initialize HTTP router
	handler := api.NewHandler(a.store, a.orch, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	slog.Info("router initialized")

	// 6. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 7. Workers
	var wg sync.WaitGroup
	if cfg.Sync.Schedule != "" {
		scheduler, err := worker.NewSyncScheduler(a.orch, cfg.Sync.Schedule, a.orch.Targets().IDs())
		if err != nil {
			a.store.Close()
			return err
		}
		startWorker(ctx, &wg, "sync-scheduler", scheduler.Run)
	} else {
		slog.Info("sync scheduler disabled", "reason", "no schedule configured")
	}

	// 8. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 9. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 10. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 10a. Stop HTTP server (drains in-flight requests, including manual syncs)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 10b. Wait for workers and manual runs still holding a lease. The store
	// must outlive them so their release lands.
	wg.Wait()
	if err := handler.DrainRuns(context.Background()); err != nil {
		slog.Error("manual sync drain error", "error", err)
	}

	// 10c. Close store
	if err := a.store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/loansync/internal/config"
	"github.com/hyperengineering/loansync/internal/store"
	"github.com/hyperengineering/loansync/internal/syncer"
	"github.com/hyperengineering/loansync/internal/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the components shared by the server and the operator commands.
type app struct {
	store    store.Store
	orch     *syncer.Orchestrator
	leases   *syncer.LeaseManager
	cursors  *syncer.CursorStore
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	resolver := upstream.NewResolver(cfg.Upstream.URLEnv, cfg.Upstream.BaseURL)
	client := upstream.NewClient(resolver, time.Duration(cfg.Upstream.Timeout))
	leases := syncer.NewLeaseManager(db, time.Duration(cfg.Sync.LockTTL), time.Now)
	cursors := syncer.NewCursorStore(db, time.Now)

	orch := syncer.NewOrchestrator(
		syncer.DefaultTargets(cfg.Upstream.Collection),
		client,
		db,
		leases,
		cursors,
		syncer.NewMetrics(registry),
		syncer.Options{
			PageSize:      cfg.Sync.PageSize,
			ResyncWindow:  time.Duration(cfg.Sync.ResyncWindow),
			OnUpsertError: syncer.UpsertPolicy(cfg.Sync.OnUpsertError),
		},
	)

	return &app{
		store:    db,
		orch:     orch,
		leases:   leases,
		cursors:  cursors,
		registry: registry,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger. Any format other than "text" logs JSON.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

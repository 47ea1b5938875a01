package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/loansync/internal/syncer"
	"github.com/hyperengineering/loansync/internal/types"
	"github.com/robfig/cron/v3"
)

// SyncRunner runs one sync of a target. Implemented by syncer.Orchestrator.
type SyncRunner interface {
	Run(ctx context.Context, targetID string) (*types.SyncResult, error)
}

// SyncScheduler triggers sync runs for every target on a cron schedule.
type SyncScheduler struct {
	runner   SyncRunner
	spec     string
	schedule cron.Schedule
	targets  []string
}

// NewSyncScheduler parses spec (standard five-field cron or a descriptor such as
// "@every 5m") and returns a scheduler for the given targets.
func NewSyncScheduler(runner SyncRunner, spec string, targets []string) (*SyncScheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &SyncScheduler{
		runner:   runner,
		spec:     spec,
		schedule: schedule,
		targets:  targets,
	}, nil
}

// Run starts the cron loop. It blocks until ctx is cancelled and any
// in-flight run has returned.
func (s *SyncScheduler) Run(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runAll(ctx) }))

	slog.Info("sync scheduler started",
		"component", "worker",
		"worker", "sync-scheduler",
		"schedule", s.spec,
		"targets", s.targets,
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	slog.Info("sync scheduler stopped",
		"component", "worker",
		"worker", "sync-scheduler",
		"reason", "context_cancelled",
	)
}

// runAll syncs each target in turn, continuing on individual failures.
func (s *SyncScheduler) runAll(ctx context.Context) {
	var succeeded, skipped, failed int
	for _, id := range s.targets {
		if ctx.Err() != nil {
			return
		}
		switch s.runTarget(ctx, id) {
		case runOK:
			succeeded++
		case runSkipped:
			skipped++
		default:
			failed++
		}
	}

	slog.Info("sync cycle completed",
		"component", "worker",
		"worker", "sync-scheduler",
		"targets_total", len(s.targets),
		"targets_succeeded", succeeded,
		"targets_skipped", skipped,
		"targets_failed", failed,
	)
}

type runOutcome int

const (
	runOK runOutcome = iota
	runSkipped
	runFailed
)

func (s *SyncScheduler) runTarget(ctx context.Context, id string) runOutcome {
	start := time.Now()
	result, err := s.runner.Run(ctx, id)
	switch {
	case errors.Is(err, syncer.ErrAlreadyRunning):
		slog.Info("scheduled sync skipped",
			"component", "worker",
			"worker", "sync-scheduler",
			"target", id,
			"reason", "already_running",
		)
		return runSkipped
	case err != nil:
		if ctx.Err() != nil {
			return runFailed // shutdown
		}
		slog.Error("scheduled sync failed",
			"component", "worker",
			"worker", "sync-scheduler",
			"target", id,
			"error", err,
		)
		return runFailed
	}

	slog.Debug("scheduled sync finished",
		"component", "worker",
		"worker", "sync-scheduler",
		"target", id,
		"synced", result.SyncedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return runOK
}

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/loansync/internal/store"
	"github.com/hyperengineering/loansync/internal/types"
	"github.com/hyperengineering/loansync/internal/upstream"
)

// Fetcher reads sorted pages from the upstream API.
// Implemented by upstream.Client.
type Fetcher interface {
	Ready() error
	FetchPage(ctx context.Context, q upstream.Query) (*upstream.Page, error)
}

// UpsertPolicy decides what a run does when a page fails to map or upsert.
type UpsertPolicy string

const (
	// PolicyContinue logs the failure, counts the rows as failed and moves on.
	PolicyContinue UpsertPolicy = "continue"
	// PolicyAbort fails the run without advancing past the failed page.
	PolicyAbort UpsertPolicy = "abort"
)

// Options tunes an Orchestrator.
type Options struct {
	PageSize      int
	ResyncWindow  time.Duration
	OnUpsertError UpsertPolicy
	Now           func() time.Time
}

// Orchestrator runs incremental syncs: lease, page, filter, map, upsert, advance, release.
type Orchestrator struct {
	targets *Targets
	fetcher Fetcher
	records store.RecordStore
	leases  *LeaseManager
	cursors *CursorStore
	metrics *Metrics
	opts    Options
}

// NewOrchestrator wires an Orchestrator. metrics may be nil.
func NewOrchestrator(
	targets *Targets,
	fetcher Fetcher,
	records store.RecordStore,
	leases *LeaseManager,
	cursors *CursorStore,
	metrics *Metrics,
	opts Options,
) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.ResyncWindow <= 0 {
		opts.ResyncWindow = time.Hour
	}
	if opts.OnUpsertError == "" {
		opts.OnUpsertError = PolicyContinue
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		targets: targets,
		fetcher: fetcher,
		records: records,
		leases:  leases,
		cursors: cursors,
		metrics: metrics,
		opts:    opts,
	}
}

// Targets returns the registry the orchestrator serves.
func (o *Orchestrator) Targets() *Targets {
	return o.targets
}

// Status returns the persisted cursor and current lock row for a target.
func (o *Orchestrator) Status(ctx context.Context, targetID string) (*types.SyncStatusResponse, error) {
	target, err := o.targets.Get(targetID)
	if err != nil {
		return nil, err
	}
	cursor, err := o.cursors.Read(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	row, err := o.leases.Holder(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	return &types.SyncStatusResponse{
		Target: target.ID,
		Cursor: cursor,
		Lock:   row,
		Locked: o.leases.Live(row),
	}, nil
}

// Run performs one incremental sync of the target.
//
// It returns upstream.ErrNotConfigured before touching the lease, ErrAlreadyRunning
// when another run holds it, and otherwise releases the lease on every exit path.
// A non-nil result accompanies errors raised after the lease was taken so callers
// can report partial progress.
func (o *Orchestrator) Run(ctx context.Context, targetID string) (*types.SyncResult, error) {
	start := o.opts.Now()

	target, err := o.targets.Get(targetID)
	if err != nil {
		return nil, err
	}
	if err := o.fetcher.Ready(); err != nil {
		return nil, err
	}

	lease, err := o.leases.Acquire(ctx, target.ID)
	if errors.Is(err, ErrAlreadyRunning) {
		o.metrics.observeRun(target.ID, OutcomeRejected, 0)
		slog.Info("sync rejected",
			"component", "syncer",
			"action", "lease_acquire",
			"target", target.ID,
			"reason", "already_running",
		)
		return nil, err
	}
	if err != nil {
		o.metrics.observeRun(target.ID, OutcomeFailed, 0)
		return nil, err
	}

	result := &types.SyncResult{Target: target.ID}
	runErr := o.run(ctx, target, result)

	released, relErr := o.leases.Release(context.WithoutCancel(ctx), lease)
	result.LockReleased = released
	if relErr != nil {
		slog.Warn("lease release failed",
			"component", "syncer",
			"action", "lease_release",
			"target", target.ID,
			"error", relErr,
		)
	} else if !released {
		slog.Warn("lease expired before release",
			"component", "syncer",
			"action", "lease_release",
			"target", target.ID,
			"ttl", o.leases.TTL().String(),
			"expired_at", lease.ExpiresAt().Format(time.RFC3339Nano),
		)
	}

	result.Duration = o.opts.Now().Sub(start)
	if runErr != nil {
		o.metrics.observeRun(target.ID, OutcomeFailed, result.Duration)
		slog.Error("sync failed",
			"component", "syncer",
			"target", target.ID,
			"synced", result.SyncedCount,
			"failed", result.FailedCount,
			"pages", result.Pages,
			"duration_ms", result.Duration.Milliseconds(),
			"error", runErr,
		)
		return result, runErr
	}

	o.metrics.observeRun(target.ID, OutcomeCompleted, result.Duration)
	slog.Info("sync completed",
		"component", "syncer",
		"target", target.ID,
		"synced", result.SyncedCount,
		"failed", result.FailedCount,
		"pages", result.Pages,
		"lock_released", result.LockReleased,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// run is the page loop executed while the lease is held.
func (o *Orchestrator) run(ctx context.Context, target Target, result *types.SyncResult) error {
	cursor, err := o.cursors.Read(ctx, target.ID)
	if err != nil {
		return err
	}
	result.Cursor = cursor

	since := EffectiveSince(cursor, o.opts.Now(), o.opts.ResyncWindow)
	values := target.Fields.SourceFields()
	columns := target.Fields.Columns()
	pageNum := 1

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := o.fetcher.FetchPage(ctx, upstream.Query{
			Collection: target.Collection,
			Values:     values,
			Since:      since,
			Page:       pageNum,
			Limit:      o.opts.PageSize,
		})
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", pageNum, err)
		}
		result.Pages++

		if page.Len() == 0 {
			o.metrics.observePage(target.ID, 0, 0)
			return nil
		}

		accepted := admitted(page.Records(), cursor)
		slog.Debug("page fetched",
			"component", "syncer",
			"target", target.ID,
			"page", pageNum,
			"since", since.Format(time.RFC3339Nano),
			"fetched", page.Len(),
			"accepted", len(accepted),
		)
		if len(accepted) == 0 {
			o.metrics.observePage(target.ID, 0, 0)
			if page.Len() < o.opts.PageSize {
				return nil
			}
			// A full page of already-committed rows at the boundary timestamp;
			// newer rows may sit on the following pages.
			pageNum++
			continue
		}

		synced, failed, err := o.writePage(ctx, target, columns, pageNum, accepted)
		result.SyncedCount += synced
		result.FailedCount += failed
		o.metrics.observePage(target.ID, synced, failed)
		if err != nil {
			return err
		}

		last := accepted[len(accepted)-1]
		cursor, err = o.cursors.Advance(ctx, target.ID, last.UpdateTime, last.ID)
		if err != nil {
			return err
		}
		result.Cursor = cursor

		if page.Len() < o.opts.PageSize {
			return nil
		}

		// Rows sharing the filter boundary can fill whole pages; walk them by page
		// number. Otherwise re-anchor the filter on the new cursor.
		if last.UpdateTime.Equal(since) {
			pageNum++
		} else {
			since = last.UpdateTime
			pageNum = 1
		}
	}
}

// writePage maps and upserts one filtered page. Under PolicyContinue failures are
// counted and swallowed; under PolicyAbort the first failure is returned.
func (o *Orchestrator) writePage(ctx context.Context, target Target, columns []types.Column, pageNum int, accepted []upstream.Record) (int, int, error) {
	var failed int
	rows := make([][]any, 0, len(accepted))
	for _, rec := range accepted {
		row, err := target.Fields.Map(rec.Fields)
		if err != nil {
			if o.opts.OnUpsertError == PolicyAbort {
				return 0, 0, fmt.Errorf("map record %d: %w", rec.ID, err)
			}
			slog.Warn("record skipped",
				"component", "syncer",
				"action", "map",
				"target", target.ID,
				"page", pageNum,
				"record_id", rec.ID,
				"error", err,
			)
			failed++
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, failed, nil
	}

	written, err := o.records.UpsertRecords(ctx, types.RecordBatch{
		Table:   target.Table,
		Columns: columns,
		Rows:    rows,
	})
	if err != nil {
		if o.opts.OnUpsertError == PolicyAbort {
			return 0, failed, fmt.Errorf("upsert page %d: %w", pageNum, err)
		}
		slog.Error("page upsert failed",
			"component", "syncer",
			"action", "upsert",
			"target", target.ID,
			"page", pageNum,
			"rows", len(rows),
			"error", err,
		)
		return 0, failed + len(rows), nil
	}
	return int(written), failed, nil
}

// admitted keeps the records strictly after the cursor, preserving order.
func admitted(records []upstream.Record, cursor types.SyncCursor) []upstream.Record {
	out := make([]upstream.Record, 0, len(records))
	for _, r := range records {
		if cursor.Admits(r.UpdateTime, r.ID) {
			out = append(out, r)
		}
	}
	return out
}

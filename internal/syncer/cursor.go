package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/loansync/internal/store"
	"github.com/hyperengineering/loansync/internal/types"
)

// CursorStore reads and advances per-target sync cursors.
type CursorStore struct {
	cursors store.CursorStore
	now     func() time.Time
}

// NewCursorStore creates a CursorStore. A nil clock uses time.Now.
func NewCursorStore(cursors store.CursorStore, now func() time.Time) *CursorStore {
	if now == nil {
		now = time.Now
	}
	return &CursorStore{cursors: cursors, now: now}
}

// Read returns the cursor, defaulting to {nil, 0} for a new target.
func (c *CursorStore) Read(ctx context.Context, targetID string) (types.SyncCursor, error) {
	cursor, err := c.cursors.ReadCursor(ctx, targetID)
	if err != nil {
		return types.SyncCursor{}, fmt.Errorf("read cursor: %w", err)
	}
	return *cursor, nil
}

// Advance moves the cursor to (lastTimestamp, lastID) and stamps last_synced_at.
func (c *CursorStore) Advance(ctx context.Context, targetID string, lastTimestamp time.Time, lastID int64) (types.SyncCursor, error) {
	syncedAt := c.now().UTC()
	ts := lastTimestamp.UTC()
	if err := c.cursors.AdvanceCursor(ctx, targetID, ts, lastID, syncedAt); err != nil {
		return types.SyncCursor{}, fmt.Errorf("advance cursor: %w", err)
	}
	return types.SyncCursor{TargetID: targetID, LastTimestamp: &ts, LastID: lastID, LastSyncedAt: &syncedAt}, nil
}

// Reset forgets the target's progress.
func (c *CursorStore) Reset(ctx context.Context, targetID string) error {
	if err := c.cursors.ResetCursor(ctx, targetID); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return nil
}

// EffectiveSince is the update_time lower bound for the first page of a run:
// the cursor timestamp when one exists, otherwise now minus the re-sync window.
func EffectiveSince(cursor types.SyncCursor, now time.Time, resyncWindow time.Duration) time.Time {
	if cursor.LastTimestamp != nil {
		return cursor.LastTimestamp.UTC()
	}
	return now.UTC().Add(-resyncWindow)
}

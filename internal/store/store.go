package store

import (
	"context"
	"time"

	"github.com/hyperengineering/loansync/internal/types"
)

// Store defines the persistence contract for mirrored records and sync control rows.
// Every method is a single-row or single-batch write; callers rely on per-statement atomicity.
type Store interface {
	RecordStore
	CursorStore
	LockStore
	Ping(ctx context.Context) error
	Close() error
}

// RecordStore reads and writes mirrored tables.
type RecordStore interface {
	// UpsertRecords inserts or replaces rows keyed by id. Last writer wins; no field merge.
	UpsertRecords(ctx context.Context, batch types.RecordBatch) (int64, error)
	ListRecords(ctx context.Context, q types.RecordQuery) (*types.RecordPage, error)
	GetRecord(ctx context.Context, table string, columns []types.Column, id int64) (types.Record, error)
}

// CursorStore persists per-target synchronization progress.
type CursorStore interface {
	// ReadCursor returns the stored cursor, or a zero cursor when none exists.
	ReadCursor(ctx context.Context, targetID string) (*types.SyncCursor, error)
	// AdvanceCursor stores the cursor and stamps last_synced_at with syncedAt.
	AdvanceCursor(ctx context.Context, targetID string, lastTimestamp time.Time, lastID int64, syncedAt time.Time) error
	ResetCursor(ctx context.Context, targetID string) error
}

// LockStore persists per-target lock rows.
type LockStore interface {
	// AcquireLock writes the lock row when none exists or the existing row was
	// locked at or before staleBefore. It reports whether the row was written.
	AcquireLock(ctx context.Context, targetID, token string, lockedAt, staleBefore time.Time) (bool, error)
	// ReleaseLock deletes the row only if it still carries token and was locked
	// after staleBefore. It reports whether a row was deleted.
	ReleaseLock(ctx context.Context, targetID, token string, staleBefore time.Time) (bool, error)
	GetLock(ctx context.Context, targetID string) (*types.LockRow, error)
	// ClearLock deletes the row regardless of holder.
	ClearLock(ctx context.Context, targetID string) error
}

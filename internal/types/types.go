package types

import (
	"time"
)

// Kind is the storage type of a mirrored column.
type Kind int

const (
	KindInt Kind = iota
	KindText
	KindDecimal
	KindTime
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindDecimal:
		return "decimal"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Column describes one destination column of a mirrored table.
type Column struct {
	Name string
	Kind Kind
}

// RecordBatch is a set of rows to upsert into a mirrored table keyed by "id".
// Every row holds one value per column, in column order.
type RecordBatch struct {
	Table   string
	Columns []Column
	Rows    [][]any
}

// Record is a single mirrored row keyed by destination column name.
type Record map[string]any

// RecordQuery filters and pages a mirrored table.
type RecordQuery struct {
	Table      string
	Columns    []Column
	Status     *int64
	BranchCode string
	From       *time.Time // inclusive lower bound on create_time
	To         *time.Time // inclusive upper bound on create_time
	Search     string
	Ascending  bool
	Page       int
	Limit      int
}

// Offset returns the row offset of the requested page.
func (q RecordQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// RecordPage is one page of mirrored rows plus the total match count.
type RecordPage struct {
	Rows  []Record `json:"rows"`
	Total int64    `json:"total"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
}

// SyncCursor marks the last upstream record committed for a target.
// LastTimestamp is nil until the first batch is committed.
type SyncCursor struct {
	TargetID      string     `json:"target_id"`
	LastTimestamp *time.Time `json:"last_timestamp"`
	LastID        int64      `json:"last_id"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
}

// Admits reports whether a record sorts strictly after the cursor
// in (update_time, id) order. A cursor without a timestamp admits everything.
func (c SyncCursor) Admits(updateTime time.Time, id int64) bool {
	if c.LastTimestamp == nil {
		return true
	}
	if updateTime.After(*c.LastTimestamp) {
		return true
	}
	return updateTime.Equal(*c.LastTimestamp) && id > c.LastID
}

// Lease is a time-boxed exclusive claim on a sync target.
type Lease struct {
	TargetID string        `json:"target_id"`
	Token    string        `json:"token"`
	LockedAt time.Time     `json:"locked_at"`
	TTL      time.Duration `json:"-"`
}

// ExpiresAt returns the instant the lease becomes reclaimable.
func (l Lease) ExpiresAt() time.Time {
	return l.LockedAt.Add(l.TTL)
}

// LockRow is the persisted lock row for a target.
type LockRow struct {
	TargetID string    `json:"target_id"`
	Token    string    `json:"token"`
	LockedAt time.Time `json:"locked_at"`
}

// SyncResult aggregates one orchestrator run.
type SyncResult struct {
	Target       string        `json:"target"`
	SyncedCount  int           `json:"synced_count"`
	FailedCount  int           `json:"failed_count"`
	Pages        int           `json:"pages"`
	Cursor       SyncCursor    `json:"cursor"`
	LockReleased bool          `json:"lock_released"`
	Duration     time.Duration `json:"-"`
}

// SyncResponse is the body returned by a successful sync trigger.
type SyncResponse struct {
	Message      string     `json:"message"`
	SyncedCount  int        `json:"synced_count"`
	FailedCount  int        `json:"failed_count"`
	Pages        int        `json:"pages"`
	Cursor       SyncCursor `json:"cursor"`
	LockReleased bool       `json:"lock_released"`
	DurationMS   int64      `json:"duration_ms"`
}

// SyncStatusResponse reports the persisted progress and lock of a target.
type SyncStatusResponse struct {
	Target string     `json:"target"`
	Cursor SyncCursor `json:"cursor"`
	Lock   *LockRow   `json:"lock"`
	Locked bool       `json:"locked"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

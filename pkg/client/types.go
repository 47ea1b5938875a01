package client

import (
	"encoding/json"
	"time"
)

// Cursor marks the last record a target has committed.
type Cursor struct {
	TargetID      string     `json:"target_id"`
	LastTimestamp *time.Time `json:"last_timestamp"`
	LastID        int64      `json:"last_id"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
}

// SyncResult is the body of a successful sync trigger.
type SyncResult struct {
	Message      string `json:"message"`
	SyncedCount  int    `json:"synced_count"`
	FailedCount  int    `json:"failed_count"`
	Pages        int    `json:"pages"`
	Cursor       Cursor `json:"cursor"`
	LockReleased bool   `json:"lock_released"`
	DurationMS   int64  `json:"duration_ms"`
}

// Lock is the persisted lock row of a target.
type Lock struct {
	TargetID string    `json:"target_id"`
	LockedAt time.Time `json:"locked_at"`
}

// Status reports a target's cursor and lock.
type Status struct {
	Target string `json:"target"`
	Cursor Cursor `json:"cursor"`
	Lock   *Lock  `json:"lock"`
	Locked bool   `json:"locked"`
}

// ListOptions filters an application listing. Zero values are omitted.
type ListOptions struct {
	Status     *int64
	BranchCode string
	From       string // YYYY-MM-DD
	To         string // YYYY-MM-DD, inclusive
	Search     string
	Ascending  bool
	Page       int
	Limit      int
}

// ApplicationPage is one page of mirrored applications.
// Rows keep the server's JSON so decimal amounts stay exact.
type ApplicationPage struct {
	Rows  []map[string]json.RawMessage `json:"rows"`
	Total int64                        `json:"total"`
	Page  int                          `json:"page"`
	Limit int                          `json:"limit"`
}

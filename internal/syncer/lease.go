package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/loansync/internal/store"
	"github.com/hyperengineering/loansync/internal/types"
	"github.com/oklog/ulid/v2"
)

// LeaseManager hands out exclusive, time-boxed leases on sync targets.
// A lease older than the TTL is treated as abandoned and may be reclaimed.
type LeaseManager struct {
	locks store.LockStore
	ttl   time.Duration
	now   func() time.Time
}

// NewLeaseManager creates a LeaseManager. A nil clock uses time.Now.
func NewLeaseManager(locks store.LockStore, ttl time.Duration, now func() time.Time) *LeaseManager {
	if now == nil {
		now = time.Now
	}
	return &LeaseManager{locks: locks, ttl: ttl, now: now}
}

// TTL returns the staleness threshold.
func (m *LeaseManager) TTL() time.Duration {
	return m.ttl
}

// Acquire claims the target. It returns ErrAlreadyRunning while a live lease exists.
func (m *LeaseManager) Acquire(ctx context.Context, targetID string) (*types.Lease, error) {
	now := m.now().UTC()
	token := ulid.Make().String()

	ok, err := m.locks.AcquireLock(ctx, targetID, token, now, now.Add(-m.ttl))
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &types.Lease{TargetID: targetID, Token: token, LockedAt: now, TTL: m.ttl}, nil
}

// Release drops the lease if it is still held and unexpired.
// It reports false without error when the lease had already lapsed or been reclaimed.
func (m *LeaseManager) Release(ctx context.Context, lease *types.Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}
	now := m.now().UTC()
	released, err := m.locks.ReleaseLock(ctx, lease.TargetID, lease.Token, now.Add(-m.ttl))
	if err != nil {
		return false, fmt.Errorf("release lease: %w", err)
	}
	return released, nil
}

// Holder returns the current lock row for a target, if any.
func (m *LeaseManager) Holder(ctx context.Context, targetID string) (*types.LockRow, error) {
	return m.locks.GetLock(ctx, targetID)
}

// Live reports whether a lock row is still inside its TTL.
func (m *LeaseManager) Live(row *types.LockRow) bool {
	if row == nil {
		return false
	}
	return m.now().Sub(row.LockedAt) < m.ttl
}

// Clear removes the lock row regardless of holder.
func (m *LeaseManager) Clear(ctx context.Context, targetID string) error {
	return m.locks.ClearLock(ctx, targetID)
}

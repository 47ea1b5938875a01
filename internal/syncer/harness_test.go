package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/loansync/internal/store"
	"github.com/hyperengineering/loansync/internal/types"
	"github.com/hyperengineering/loansync/internal/upstream"
	"github.com/prometheus/client_golang/prometheus"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeUpstream serves records with the CMS semantics: update_time >= since,
// sorted by (update_time, id), paged by page and limit.
type fakeUpstream struct {
	mu       sync.Mutex
	records  []upstream.Record
	queries  []upstream.Query
	failOn   int
	readyErr error
	onFetch  func(call int)
}

func (f *fakeUpstream) Ready() error { return f.readyErr }

func (f *fakeUpstream) FetchPage(ctx context.Context, q upstream.Query) (*upstream.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.queries = append(f.queries, q)
	call := len(f.queries)
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(call)
	}
	if f.failOn == call {
		return nil, &upstream.StatusError{StatusCode: 503}
	}

	var match []upstream.Record
	for _, r := range f.records {
		if !r.UpdateTime.Before(q.Since) {
			match = append(match, r)
		}
	}
	start := (q.Page - 1) * q.Limit
	if start >= len(match) {
		return upstream.NewPage(nil)
	}
	end := start + q.Limit
	if end > len(match) {
		end = len(match)
	}
	return upstream.NewPage(match[start:end])
}

func (f *fakeUpstream) Queries() []upstream.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upstream.Query(nil), f.queries...)
}

// rec builds an upstream record; extra is a JSON object fragment merged into the fields.
func rec(t *testing.T, id int64, ts time.Time, extra ...string) upstream.Record {
	t.Helper()
	body := fmt.Sprintf(`{"id": %d, "update_time": %q`, id, ts.Format(time.RFC3339Nano))
	for _, e := range extra {
		body += ", " + e
	}
	body += "}"
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return upstream.Record{ID: id, UpdateTime: ts, Fields: fields}
}

// countingLocks records lease traffic on top of a real LockStore.
type countingLocks struct {
	store.LockStore
	mu       sync.Mutex
	acquired int
	released int
}

func (c *countingLocks) AcquireLock(ctx context.Context, targetID, token string, lockedAt, staleBefore time.Time) (bool, error) {
	ok, err := c.LockStore.AcquireLock(ctx, targetID, token, lockedAt, staleBefore)
	if ok {
		c.mu.Lock()
		c.acquired++
		c.mu.Unlock()
	}
	return ok, err
}

func (c *countingLocks) ReleaseLock(ctx context.Context, targetID, token string, staleBefore time.Time) (bool, error) {
	c.mu.Lock()
	c.released++
	c.mu.Unlock()
	return c.LockStore.ReleaseLock(ctx, targetID, token, staleBefore)
}

// flakyRecords fails the listed upsert calls (1-based).
type flakyRecords struct {
	store.RecordStore
	calls int
	fail  map[int]bool
}

func (f *flakyRecords) UpsertRecords(ctx context.Context, batch types.RecordBatch) (int64, error) {
	f.calls++
	if f.fail[f.calls] {
		return 0, fmt.Errorf("simulated upsert failure")
	}
	return f.RecordStore.UpsertRecords(ctx, batch)
}

type harness struct {
	store   store.Store
	locks   *countingLocks
	records *flakyRecords
	clock   *fakeClock
	up      *fakeUpstream
	leases  *LeaseManager
	cursors *CursorStore
	metrics *Metrics
	orch    *Orchestrator
}

func newHarness(t *testing.T, up *fakeUpstream, opts Options) *harness {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "loansync.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := &harness{
		store:   s,
		locks:   &countingLocks{LockStore: s},
		records: &flakyRecords{RecordStore: s, fail: map[int]bool{}},
		clock:   &fakeClock{t: t0.Add(30 * time.Minute)},
		up:      up,
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	if opts.PageSize == 0 {
		opts.PageSize = 500
	}
	if opts.ResyncWindow == 0 {
		opts.ResyncWindow = time.Hour
	}
	opts.Now = h.clock.Now

	h.leases = NewLeaseManager(h.locks, 5*time.Minute, h.clock.Now)
	h.cursors = NewCursorStore(s, h.clock.Now)
	h.orch = NewOrchestrator(DefaultTargets("Application"), up, h.records, h.leases, h.cursors, h.metrics, opts)
	return h
}

func (h *harness) cursor(t *testing.T) types.SyncCursor {
	t.Helper()
	c, err := h.cursors.Read(context.Background(), ApplicationRecords)
	if err != nil {
		t.Fatalf("read cursor: %v", err)
	}
	return c
}

func (h *harness) assertUnlocked(t *testing.T) {
	t.Helper()
	row, err := h.store.GetLock(context.Background(), ApplicationRecords)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	if row != nil {
		t.Errorf("lock row still present: %+v", row)
	}
}

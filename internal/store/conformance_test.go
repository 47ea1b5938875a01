package store

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/loansync/internal/mapping"
	"github.com/hyperengineering/loansync/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testTable = "application_records"

// runStoreSuite exercises the Store contract against a fresh, empty store per subtest.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertInsertsThenReplaces", func(t *testing.T) { testUpsertInsertsThenReplaces(t, newStore(t)) })
	t.Run("UpsertRejectsRaggedRows", func(t *testing.T) { testUpsertRejectsRaggedRows(t, newStore(t)) })
	t.Run("GetRecordNotFound", func(t *testing.T) { testGetRecordNotFound(t, newStore(t)) })
	t.Run("ListFiltersAndPages", func(t *testing.T) { testListFiltersAndPages(t, newStore(t)) })
	t.Run("CursorDefaultsAdvanceReset", func(t *testing.T) { testCursorDefaultsAdvanceReset(t, newStore(t)) })
	t.Run("LockExclusionAndStaleness", func(t *testing.T) { testLockExclusionAndStaleness(t, newStore(t)) })
	t.Run("LockReleaseGuardedByToken", func(t *testing.T) { testLockReleaseGuardedByToken(t, newStore(t)) })
}

func rawApplication(t *testing.T, s string) []any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw map[string]any
	require.NoError(t, dec.Decode(&raw))
	row, err := mapping.ApplicationFields.Map(raw)
	require.NoError(t, err)
	return row
}

func applicationBatch(rows ...[]any) types.RecordBatch {
	return types.RecordBatch{Table: testTable, Columns: mapping.ApplicationFields.Columns(), Rows: rows}
}

func testUpsertInsertsThenReplaces(t *testing.T, s Store) {
	ctx := context.Background()
	cols := mapping.ApplicationFields.Columns()

	n, err := s.UpsertRecords(ctx, applicationBatch(
		rawApplication(t, `{"id": 1, "code": "APP-1", "loan_amount": "1000.50", "approver": 9, "update_time": "2025-06-01T00:00:00Z"}`),
		rawApplication(t, `{"id": 2, "code": "APP-2", "update_time": "2025-06-01T00:00:01Z"}`),
	))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	rec, err := s.GetRecord(ctx, testTable, cols, 1)
	require.NoError(t, err)
	require.Equal(t, "APP-1", rec["code"])
	require.True(t, decimal.RequireFromString("1000.5").Equal(rec["loan_amount"].(decimal.Decimal)))
	require.Equal(t, int64(9), rec["approver_id"])
	require.True(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Equal(rec["update_time"].(time.Time)))

	// Last writer wins with no merge: approver disappears when the new row omits it.
	_, err = s.UpsertRecords(ctx, applicationBatch(
		rawApplication(t, `{"id": 1, "code": "APP-1b", "update_time": "2025-06-02T00:00:00Z"}`),
	))
	require.NoError(t, err)

	rec, err = s.GetRecord(ctx, testTable, cols, 1)
	require.NoError(t, err)
	require.Equal(t, "APP-1b", rec["code"])
	require.Nil(t, rec["approver_id"])
	require.Nil(t, rec["loan_amount"])

	page, err := s.ListRecords(ctx, types.RecordQuery{Table: testTable, Columns: cols, Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)
}

func testUpsertRejectsRaggedRows(t *testing.T, s Store) {
	_, err := s.UpsertRecords(context.Background(), types.RecordBatch{
		Table:   testTable,
		Columns: mapping.ApplicationFields.Columns(),
		Rows:    [][]any{{int64(1), "short"}},
	})
	require.ErrorIs(t, err, ErrInvalidBatch)

	_, err = s.UpsertRecords(context.Background(), types.RecordBatch{
		Table:   "application_records; DROP TABLE sync_state",
		Columns: mapping.ApplicationFields.Columns(),
	})
	require.ErrorIs(t, err, ErrInvalidColumns)
}

func testGetRecordNotFound(t *testing.T, s Store) {
	_, err := s.GetRecord(context.Background(), testTable, mapping.ApplicationFields.Columns(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func testListFiltersAndPages(t *testing.T, s Store) {
	ctx := context.Background()
	cols := mapping.ApplicationFields.Columns()

	_, err := s.UpsertRecords(ctx, applicationBatch(
		rawApplication(t, `{"id": 1, "code": "HN-001", "status": 1, "branch__code": "HN", "fullname": "Tran Thi B", "create_time": "2025-01-05T08:00:00Z", "update_time": "2025-06-01T00:00:00Z"}`),
		rawApplication(t, `{"id": 2, "code": "HN-002", "status": 2, "branch__code": "HN", "phone": "0901000002", "create_time": "2025-02-10T08:00:00Z", "update_time": "2025-06-01T00:00:00Z"}`),
		rawApplication(t, `{"id": 3, "code": "SG-003", "status": 2, "branch__code": "SG", "customer__code": "CUS_50%", "create_time": "2025-03-15T23:30:00Z", "update_time": "2025-06-01T00:00:00Z"}`),
		rawApplication(t, `{"id": 4, "code": "SG-004", "status": 1, "branch__code": "SG", "create_time": "2025-04-01T00:00:00Z", "update_time": "2025-06-01T00:00:00Z"}`),
	))
	require.NoError(t, err)

	ids := func(p *types.RecordPage) []int64 {
		out := make([]int64, 0, len(p.Rows))
		for _, r := range p.Rows {
			out = append(out, r["id"].(int64))
		}
		return out
	}
	base := types.RecordQuery{Table: testTable, Columns: cols, Page: 1, Limit: 10}

	page, err := s.ListRecords(ctx, base)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 3, 2, 1}, ids(page), "default order is create_time descending")

	asc := base
	asc.Ascending = true
	page, err = s.ListRecords(ctx, asc)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4}, ids(page))

	status := int64(2)
	byStatus := base
	byStatus.Status = &status
	page, err = s.ListRecords(ctx, byStatus)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, ids(page))
	require.Equal(t, int64(2), page.Total)

	byBranch := base
	byBranch.BranchCode = "SG"
	page, err = s.ListRecords(ctx, byBranch)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 3}, ids(page))

	from := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 15, 23, 59, 59, 999999000, time.UTC)
	byRange := base
	byRange.From, byRange.To = &from, &to
	page, err = s.ListRecords(ctx, byRange)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, ids(page))

	search := base
	search.Search = "tran thi"
	page, err = s.ListRecords(ctx, search)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(page), "search is case-insensitive on fullname")

	search.Search = "50%"
	page, err = s.ListRecords(ctx, search)
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids(page), "LIKE wildcards in the term are literal")

	search.Search = "0901000002"
	page, err = s.ListRecords(ctx, search)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, ids(page))

	paged := base
	paged.Limit = 3
	paged.Page = 2
	page, err = s.ListRecords(ctx, paged)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids(page))
	require.Equal(t, int64(4), page.Total)
}

func testCursorDefaultsAdvanceReset(t *testing.T, s Store) {
	ctx := context.Background()
	target := "application_records"

	cursor, err := s.ReadCursor(ctx, target)
	require.NoError(t, err)
	require.Nil(t, cursor.LastTimestamp)
	require.Equal(t, int64(0), cursor.LastID)
	require.Nil(t, cursor.LastSyncedAt)

	ts := time.Date(2025, 6, 1, 0, 0, 1, 123456000, time.UTC)
	syncedAt := time.Date(2025, 6, 1, 0, 5, 0, 0, time.UTC)
	require.NoError(t, s.AdvanceCursor(ctx, target, ts, 43, syncedAt))

	cursor, err = s.ReadCursor(ctx, target)
	require.NoError(t, err)
	require.NotNil(t, cursor.LastTimestamp)
	require.True(t, ts.Equal(*cursor.LastTimestamp), "microsecond timestamps survive the round trip")
	require.Equal(t, int64(43), cursor.LastID)
	require.True(t, syncedAt.Equal(*cursor.LastSyncedAt))

	ts2 := ts.Add(time.Minute)
	require.NoError(t, s.AdvanceCursor(ctx, target, ts2, 44, syncedAt.Add(time.Minute)))
	cursor, err = s.ReadCursor(ctx, target)
	require.NoError(t, err)
	require.True(t, ts2.Equal(*cursor.LastTimestamp))
	require.Equal(t, int64(44), cursor.LastID)

	other, err := s.ReadCursor(ctx, "other_target")
	require.NoError(t, err)
	require.Nil(t, other.LastTimestamp)

	require.NoError(t, s.ResetCursor(ctx, target))
	cursor, err = s.ReadCursor(ctx, target)
	require.NoError(t, err)
	require.Nil(t, cursor.LastTimestamp)
	require.Equal(t, int64(0), cursor.LastID)
}

func testLockExclusionAndStaleness(t *testing.T, s Store) {
	ctx := context.Background()
	target := "application_records"
	ttl := 5 * time.Minute
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ok, err := s.AcquireLock(ctx, target, "token-a", t0, t0.Add(-ttl))
	require.NoError(t, err)
	require.True(t, ok, "absent lock is acquirable")

	now := t0.Add(ttl - time.Second)
	ok, err = s.AcquireLock(ctx, target, "token-b", now, now.Add(-ttl))
	require.NoError(t, err)
	require.False(t, ok, "fresh lock rejects a second holder")

	row, err := s.GetLock(ctx, target)
	require.NoError(t, err)
	require.Equal(t, "token-a", row.Token)
	require.True(t, t0.Equal(row.LockedAt))

	now = t0.Add(ttl)
	ok, err = s.AcquireLock(ctx, target, "token-c", now, now.Add(-ttl))
	require.NoError(t, err)
	require.True(t, ok, "lock exactly ttl old is stale")

	row, err = s.GetLock(ctx, target)
	require.NoError(t, err)
	require.Equal(t, "token-c", row.Token)

	require.NoError(t, s.ClearLock(ctx, target))
	row, err = s.GetLock(ctx, target)
	require.NoError(t, err)
	require.Nil(t, row)
}

func testLockReleaseGuardedByToken(t *testing.T, s Store) {
	ctx := context.Background()
	target := "application_records"
	ttl := 5 * time.Minute
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ok, err := s.AcquireLock(ctx, target, "token-a", t0, t0.Add(-ttl))
	require.NoError(t, err)
	require.True(t, ok)

	released, err := s.ReleaseLock(ctx, target, "someone-else", t0.Add(time.Second-ttl))
	require.NoError(t, err)
	require.False(t, released, "foreign token must not release")

	// Past the ttl a slow holder must not delete the row.
	late := t0.Add(ttl + time.Second)
	released, err = s.ReleaseLock(ctx, target, "token-a", late.Add(-ttl))
	require.NoError(t, err)
	require.False(t, released, "expired lease releases as a no-op")

	// A newer run reclaims, then the old token is still a no-op.
	ok, err = s.AcquireLock(ctx, target, "token-b", late, late.Add(-ttl))
	require.NoError(t, err)
	require.True(t, ok)
	released, err = s.ReleaseLock(ctx, target, "token-a", late.Add(-ttl))
	require.NoError(t, err)
	require.False(t, released)

	released, err = s.ReleaseLock(ctx, target, "token-b", late.Add(time.Second-ttl))
	require.NoError(t, err)
	require.True(t, released)

	row, err := s.GetLock(ctx, target)
	require.NoError(t, err)
	require.Nil(t, row)
}

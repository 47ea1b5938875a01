package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/loansync/internal/types"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed mirror database.
type SQLiteStore struct {
	db *sql.DB
	d  dialect
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection; one writer connection keeps them in force.
	db.SetMaxOpenConns(1)

	// Enable pragmas for performance and safety
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	// Run goose migrations
	if err := RunMigrations(db, "sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, d: sqliteDialect}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertRecords writes the batch in one transaction.
func (s *SQLiteStore) UpsertRecords(ctx context.Context, batch types.RecordBatch) (int64, error) {
	if err := validateBatch(batch); err != nil {
		return 0, err
	}
	if len(batch.Rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.d.buildUpsert(batch.Table, batch.Columns))
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	var written int64
	for i, row := range batch.Rows {
		if _, err := stmt.ExecContext(ctx, s.d.bindRow(row)...); err != nil {
			return 0, fmt.Errorf("upsert row %d: %w", i, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return written, nil
}

// ListRecords returns one filtered page and the total match count.
func (s *SQLiteStore) ListRecords(ctx context.Context, q types.RecordQuery) (*types.RecordPage, error) {
	pageQuery, countQuery, args, err := s.d.buildList(q)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, pageQuery, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	page := &types.RecordPage{Rows: []types.Record{}, Total: total, Page: q.Page, Limit: q.Limit}
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows, q.Columns)
		if err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return page, nil
}

// GetRecord returns a single row by id, or ErrNotFound.
func (s *SQLiteStore) GetRecord(ctx context.Context, table string, columns []types.Column, id int64) (types.Record, error) {
	if err := validateColumns(table, columns); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.d.buildGet(table, columns), id)
	rec, err := scanSQLiteRecord(row, columns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func scanSQLiteRecord(scanner interface{ Scan(...any) error }, columns []types.Column) (types.Record, error) {
	holders := make([]any, len(columns))
	for i, c := range columns {
		if c.Kind == types.KindInt {
			holders[i] = new(sql.NullInt64)
		} else {
			holders[i] = new(sql.NullString)
		}
	}
	if err := scanner.Scan(holders...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rec := make(types.Record, len(columns))
	for i, c := range columns {
		switch h := holders[i].(type) {
		case *sql.NullInt64:
			if h.Valid {
				rec[c.Name] = h.Int64
			} else {
				rec[c.Name] = nil
			}
		case *sql.NullString:
			v, err := textValue(c, h)
			if err != nil {
				return nil, err
			}
			rec[c.Name] = v
		}
	}
	return rec, nil
}

func textValue(c types.Column, h *sql.NullString) (any, error) {
	if !h.Valid {
		return nil, nil
	}
	switch c.Kind {
	case types.KindDecimal:
		d, err := decimal.NewFromString(h.String)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return d, nil
	case types.KindTime:
		t, err := time.Parse(sqlTimeLayout, h.String)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return t, nil
	default:
		return h.String, nil
	}
}

// ReadCursor returns the stored cursor or a zero cursor for an unknown target.
func (s *SQLiteStore) ReadCursor(ctx context.Context, targetID string) (*types.SyncCursor, error) {
	cursor := &types.SyncCursor{TargetID: targetID}

	var syncedAt, lastTimestamp sql.NullString
	err := s.db.QueryRowContext(ctx, queryReadCursor, targetID).Scan(&syncedAt, &lastTimestamp, &cursor.LastID)
	if errors.Is(err, sql.ErrNoRows) {
		return cursor, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	if cursor.LastSyncedAt, err = parseNullTime(syncedAt); err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}
	if cursor.LastTimestamp, err = parseNullTime(lastTimestamp); err != nil {
		return nil, fmt.Errorf("parse last_timestamp: %w", err)
	}
	return cursor, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(sqlTimeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AdvanceCursor upserts the cursor row for a target.
func (s *SQLiteStore) AdvanceCursor(ctx context.Context, targetID string, lastTimestamp time.Time, lastID int64, syncedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, queryAdvanceCursor,
		targetID, s.d.bindValue(syncedAt), s.d.bindValue(lastTimestamp), lastID)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// ResetCursor forgets all progress for a target.
func (s *SQLiteStore) ResetCursor(ctx context.Context, targetID string) error {
	if _, err := s.db.ExecContext(ctx, queryResetCursor, targetID); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return nil
}

// AcquireLock claims the lock row when it is absent or stale.
func (s *SQLiteStore) AcquireLock(ctx context.Context, targetID, token string, lockedAt, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, queryAcquireLock, targetID, token, millis(lockedAt), millis(staleBefore))
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseLock deletes the lock row held by token if it has not gone stale.
func (s *SQLiteStore) ReleaseLock(ctx context.Context, targetID, token string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, queryReleaseLock, targetID, token, millis(staleBefore))
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock rows affected: %w", err)
	}
	return n > 0, nil
}

// GetLock returns the current lock row, or nil when the target is unlocked.
func (s *SQLiteStore) GetLock(ctx context.Context, targetID string) (*types.LockRow, error) {
	var row types.LockRow
	var lockedAt int64
	err := s.db.QueryRowContext(ctx, queryGetLock, targetID).Scan(&row.TargetID, &row.Token, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	row.LockedAt = fromMillis(lockedAt)
	return &row, nil
}

// ClearLock removes the lock row unconditionally.
func (s *SQLiteStore) ClearLock(ctx context.Context, targetID string) error {
	if _, err := s.db.ExecContext(ctx, queryClearLock, targetID); err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/loansync/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

// PostgresStore is the PostgreSQL-backed mirror database.
type PostgresStore struct {
	pool *pgxpool.Pool
	d    dialect
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore runs migrations over a database/sql handle then opens a pgx pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := RunMigrations(db, "postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close migration handle: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	return &PostgresStore{pool: pool, d: postgresDialect}, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertRecords sends the batch as one pgx batch inside a transaction.
func (s *PostgresStore) UpsertRecords(ctx context.Context, batch types.RecordBatch) (int64, error) {
	if err := validateBatch(batch); err != nil {
		return 0, err
	}
	if len(batch.Rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	query := s.d.buildUpsert(batch.Table, batch.Columns)
	b := &pgx.Batch{}
	for _, row := range batch.Rows {
		b.Queue(query, s.d.bindRow(row)...)
	}

	results := tx.SendBatch(ctx, b)
	var written int64
	for i := range batch.Rows {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return 0, fmt.Errorf("upsert row %d: %w", i, err)
		}
		written++
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return written, nil
}

// ListRecords returns one filtered page and the total match count.
func (s *PostgresStore) ListRecords(ctx context.Context, q types.RecordQuery) (*types.RecordPage, error) {
	pageQuery, countQuery, args, err := s.d.buildList(q)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.pool.Query(ctx, pageQuery, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	page := &types.RecordPage{Rows: []types.Record{}, Total: total, Page: q.Page, Limit: q.Limit}
	for rows.Next() {
		rec, err := scanPostgresRecord(rows, q.Columns)
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
func (s *PostgresStore) GetRecord(ctx context.Context, table string, columns []types.Column, id int64) (types.Record, error) {
	if err := validateColumns(table, columns); err != nil {
		return nil, err
	}
	rec, err := scanPostgresRecord(s.pool.QueryRow(ctx, s.d.buildGet(table, columns), id), columns)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func scanPostgresRecord(row pgx.Row, columns []types.Column) (types.Record, error) {
	holders := make([]any, len(columns))
	for i, c := range columns {
		switch c.Kind {
		case types.KindInt:
			holders[i] = new(*int64)
		case types.KindDecimal:
			holders[i] = new(decimal.NullDecimal)
		case types.KindTime:
			holders[i] = new(*time.Time)
		default:
			holders[i] = new(*string)
		}
	}
	if err := row.Scan(holders...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rec := make(types.Record, len(columns))
	for i, c := range columns {
		switch h := holders[i].(type) {
		case **int64:
			if *h != nil {
				rec[c.Name] = **h
			} else {
				rec[c.Name] = nil
			}
		case *decimal.NullDecimal:
			if h.Valid {
				rec[c.Name] = h.Decimal
			} else {
				rec[c.Name] = nil
			}
		case **time.Time:
			if *h != nil {
				rec[c.Name] = (**h).UTC()
			} else {
				rec[c.Name] = nil
			}
		case **string:
			if *h != nil {
				rec[c.Name] = **h
			} else {
				rec[c.Name] = nil
			}
		}
	}
	return rec, nil
}

// ReadCursor returns the stored cursor or a zero cursor for an unknown target.
func (s *PostgresStore) ReadCursor(ctx context.Context, targetID string) (*types.SyncCursor, error) {
	cursor := &types.SyncCursor{TargetID: targetID}
	err := s.pool.QueryRow(ctx, s.d.rebind(queryReadCursor), targetID).
		Scan(&cursor.LastSyncedAt, &cursor.LastTimestamp, &cursor.LastID)
	if errors.Is(err, pgx.ErrNoRows) {
		return cursor, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	if cursor.LastSyncedAt != nil {
		t := cursor.LastSyncedAt.UTC()
		cursor.LastSyncedAt = &t
	}
	if cursor.LastTimestamp != nil {
		t := cursor.LastTimestamp.UTC()
		cursor.LastTimestamp = &t
	}
	return cursor, nil
}

// AdvanceCursor upserts the cursor row for a target.
func (s *PostgresStore) AdvanceCursor(ctx context.Context, targetID string, lastTimestamp time.Time, lastID int64, syncedAt time.Time) error {
	if _, err := s.pool.Exec(ctx, s.d.rebind(queryAdvanceCursor), targetID, syncedAt, lastTimestamp, lastID); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// ResetCursor forgets all progress for a target.
func (s *PostgresStore) ResetCursor(ctx context.Context, targetID string) error {
	if _, err := s.pool.Exec(ctx, s.d.rebind(queryResetCursor), targetID); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return nil
}

// AcquireLock claims the lock row when it is absent or stale.
func (s *PostgresStore) AcquireLock(ctx context.Context, targetID, token string, lockedAt, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, s.d.rebind(queryAcquireLock), targetID, token, millis(lockedAt), millis(staleBefore))
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLock deletes the lock row held by token if it has not gone stale.
func (s *PostgresStore) ReleaseLock(ctx context.Context, targetID, token string, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, s.d.rebind(queryReleaseLock), targetID, token, millis(staleBefore))
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetLock returns the current lock row, or nil when the target is unlocked.
func (s *PostgresStore) GetLock(ctx context.Context, targetID string) (*types.LockRow, error) {
	var row types.LockRow
	var lockedAt int64
	err := s.pool.QueryRow(ctx, s.d.rebind(queryGetLock), targetID).Scan(&row.TargetID, &row.Token, &lockedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	row.LockedAt = fromMillis(lockedAt)
	return &row, nil
}

// ClearLock removes the lock row unconditionally.
func (s *PostgresStore) ClearLock(ctx context.Context, targetID string) error {
	if _, err := s.pool.Exec(ctx, s.d.rebind(queryClearLock), targetID); err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}
	return nil
}

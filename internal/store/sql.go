package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/loansync/internal/types"
	"github.com/shopspring/decimal"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// sqlTimeLayout is a fixed-width UTC layout so TEXT timestamps sort lexically.
const sqlTimeLayout = "2006-01-02T15:04:05.000000Z"

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	name      string
	dollar    bool // $1 placeholders instead of ?
	likeOp    string
	bindValue func(v any) any
}

var sqliteDialect = dialect{
	name:   "sqlite",
	likeOp: "LIKE",
	bindValue: func(v any) any {
		switch x := v.(type) {
		case time.Time:
			return x.UTC().Format(sqlTimeLayout)
		case *time.Time:
			if x == nil {
				return nil
			}
			return x.UTC().Format(sqlTimeLayout)
		case decimal.Decimal:
			return x.String()
		default:
			return v
		}
	},
}

var postgresDialect = dialect{
	name:      "postgres",
	dollar:    true,
	likeOp:    "ILIKE",
	bindValue: func(v any) any { return v },
}

// rebind rewrites ? placeholders for dialects that use numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) bindRow(row []any) []any {
	args := make([]any, len(row))
	for i, v := range row {
		args[i] = d.bindValue(v)
	}
	return args
}

const (
	queryReadCursor = `SELECT last_synced_at, last_timestamp, last_id FROM sync_state WHERE target_id = ?`

	queryAdvanceCursor = `INSERT INTO sync_state (target_id, last_synced_at, last_timestamp, last_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (target_id) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			last_timestamp = excluded.last_timestamp,
			last_id = excluded.last_id`

	queryResetCursor = `DELETE FROM sync_state WHERE target_id = ?`

	queryAcquireLock = `INSERT INTO sync_locks (target_id, token, locked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (target_id) DO UPDATE SET
			token = excluded.token,
			locked_at = excluded.locked_at
		WHERE sync_locks.locked_at <= ?`

	queryReleaseLock = `DELETE FROM sync_locks WHERE target_id = ? AND token = ? AND locked_at > ?`

	queryGetLock = `SELECT target_id, token, locked_at FROM sync_locks WHERE target_id = ?`

	queryClearLock = `DELETE FROM sync_locks WHERE target_id = ?`
)

func validateColumns(table string, columns []types.Column) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("%w: table %q", ErrInvalidColumns, table)
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: no columns", ErrInvalidColumns)
	}
	hasID := false
	for _, c := range columns {
		if !identPattern.MatchString(c.Name) {
			return fmt.Errorf("%w: column %q", ErrInvalidColumns, c.Name)
		}
		if c.Name == "id" {
			hasID = true
		}
	}
	if !hasID {
		return fmt.Errorf("%w: missing id column", ErrInvalidColumns)
	}
	return nil
}

func validateBatch(batch types.RecordBatch) error {
	if err := validateColumns(batch.Table, batch.Columns); err != nil {
		return err
	}
	for i, row := range batch.Rows {
		if len(row) != len(batch.Columns) {
			return fmt.Errorf("%w: row %d has %d values for %d columns", ErrInvalidBatch, i, len(row), len(batch.Columns))
		}
	}
	return nil
}

func hasColumn(columns []types.Column, name string) bool {
	for _, c := range columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func columnList(columns []types.Column) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

// buildUpsert returns a single-row upsert keyed by id that replaces every other column.
func (d dialect) buildUpsert(table string, columns []types.Column) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	var sets []string
	for _, c := range columns {
		if c.Name == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c.Name, c.Name))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) ", table, columnList(columns), placeholders)
	if len(sets) == 0 {
		query += "DO NOTHING"
	} else {
		query += "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return d.rebind(query)
}

func (d dialect) buildGet(table string, columns []types.Column) string {
	return d.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", columnList(columns), table))
}

// searchColumns are matched by the free-text search filter when present.
var searchColumns = []string{"code", "fullname", "customer_code", "phone"}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// buildList returns the page query, the count query and their shared filter args.
// The page query takes two extra trailing args: limit and offset.
func (d dialect) buildList(q types.RecordQuery) (string, string, []any, error) {
	if err := validateColumns(q.Table, q.Columns); err != nil {
		return "", "", nil, err
	}

	var where []string
	var args []any
	require := func(col string) error {
		if !hasColumn(q.Columns, col) {
			return fmt.Errorf("%w: filter column %q not mapped", ErrInvalidColumns, col)
		}
		return nil
	}

	if q.Status != nil {
		if err := require("status"); err != nil {
			return "", "", nil, err
		}
		where = append(where, "status = ?")
		args = append(args, *q.Status)
	}
	if q.BranchCode != "" {
		if err := require("branch_code"); err != nil {
			return "", "", nil, err
		}
		where = append(where, "branch_code = ?")
		args = append(args, q.BranchCode)
	}
	if q.From != nil || q.To != nil {
		if err := require("create_time"); err != nil {
			return "", "", nil, err
		}
	}
	if q.From != nil {
		where = append(where, "create_time >= ?")
		args = append(args, d.bindValue(*q.From))
	}
	if q.To != nil {
		where = append(where, "create_time <= ?")
		args = append(args, d.bindValue(*q.To))
	}
	if q.Search != "" {
		var ors []string
		pattern := "%" + escapeLike(q.Search) + "%"
		for _, col := range searchColumns {
			if !hasColumn(q.Columns, col) {
				continue
			}
			ors = append(ors, fmt.Sprintf(`%s %s ? ESCAPE '\'`, col, d.likeOp))
			args = append(args, pattern)
		}
		if len(ors) > 0 {
			where = append(where, "("+strings.Join(ors, " OR ")+")")
		}
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	direction := "DESC"
	if q.Ascending {
		direction = "ASC"
	}
	order := fmt.Sprintf(" ORDER BY id %s", direction)
	if hasColumn(q.Columns, "create_time") {
		order = fmt.Sprintf(" ORDER BY create_time %s, id %s", direction, direction)
	}

	pageQuery := fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT ? OFFSET ?", columnList(q.Columns), q.Table, clause, order)
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.Table, clause)
	return d.rebind(pageQuery), d.rebind(countQuery), args, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

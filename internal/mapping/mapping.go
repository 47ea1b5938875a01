// Package mapping projects raw upstream records onto mirrored table rows
// through an ordered, declarative field table.
package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/loansync/internal/types"
	"github.com/shopspring/decimal"
)

// ErrFieldType is returned when a source value cannot be coerced to its column kind.
var ErrFieldType = errors.New("field type mismatch")

// IDColumn is the upsert key every table must map.
const IDColumn = "id"

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Field maps one upstream source field to one destination column.
// Default is used when the source field is absent or null.
type Field struct {
	Source  string
	Dest    string
	Kind    types.Kind
	Default any
}

// Table is an ordered list of field mappings.
type Table []Field

// Validate checks that destination columns are safe identifiers, unique,
// and include the id upsert key.
func (t Table) Validate() error {
	if len(t) == 0 {
		return errors.New("mapping table is empty")
	}
	seen := make(map[string]bool, len(t))
	hasID := false
	for _, f := range t {
		if f.Source == "" {
			return fmt.Errorf("column %q: empty source field", f.Dest)
		}
		if !identPattern.MatchString(f.Dest) {
			return fmt.Errorf("invalid column name %q", f.Dest)
		}
		if seen[f.Dest] {
			return fmt.Errorf("duplicate column %q", f.Dest)
		}
		seen[f.Dest] = true
		if f.Dest == IDColumn {
			if f.Kind != types.KindInt {
				return fmt.Errorf("column %q must be an int", IDColumn)
			}
			hasID = true
		}
	}
	if !hasID {
		return fmt.Errorf("mapping table has no %q column", IDColumn)
	}
	return nil
}

// SourceFields returns the upstream field list in table order.
func (t Table) SourceFields() []string {
	fields := make([]string, len(t))
	for i, f := range t {
		fields[i] = f.Source
	}
	return fields
}

// Columns returns the destination columns in table order.
func (t Table) Columns() []types.Column {
	cols := make([]types.Column, len(t))
	for i, f := range t {
		cols[i] = types.Column{Name: f.Dest, Kind: f.Kind}
	}
	return cols
}

// Map converts one raw upstream record into a row aligned with Columns().
// It has no side effects.
func (t Table) Map(raw map[string]any) ([]any, error) {
	row := make([]any, len(t))
	for i, f := range t {
		v, ok := raw[f.Source]
		if !ok || v == nil {
			row[i] = f.Default
			continue
		}
		coerced, err := coerce(f.Kind, v)
		if err != nil {
			return nil, fmt.Errorf("%s -> %s: %w", f.Source, f.Dest, err)
		}
		row[i] = coerced
	}
	return row, nil
}

func coerce(kind types.Kind, v any) (any, error) {
	switch kind {
	case types.KindInt:
		return toInt(v)
	case types.KindText:
		return toText(v)
	case types.KindDecimal:
		return toDecimal(v)
	case types.KindTime:
		return toTime(v)
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrFieldType, kind)
	}
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrFieldType, x)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrFieldType, x)
		}
		return n, nil
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrFieldType, x)
		}
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrFieldType, v)
	}
}

func toText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrFieldType, err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("%w: %T is not text", ErrFieldType, v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrFieldType, x)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrFieldType, x)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case decimal.Decimal:
		return x, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %T is not a decimal", ErrFieldType, v)
	}
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Truncate(time.Microsecond), nil
	case string:
		t, err := ParseTimestamp(x)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrFieldType, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: %T is not a timestamp", ErrFieldType, v)
	}
}

// timestampLayouts are tried in order. Zoneless layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats the CMS emits and normalizes the
// result to UTC with microsecond precision, the precision of the stores.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

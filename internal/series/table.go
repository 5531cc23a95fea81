package series

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrSchemaMismatch is returned by Merge when the two tables do not expose
// the same parameter columns.
var ErrSchemaMismatch = errors.New("parameter columns differ")

// Row holds one day's values keyed by parameter name. A value with
// Valid=false means the source reported the day but the parameter is
// missing.
type Row map[string]sql.NullFloat64

// Table is a date-indexed set of daily parameter values. Dates are unique
// within a table and normalized to midnight UTC; every row carries the same
// parameter columns.
type Table struct {
	params []string
	rows   map[time.Time]Row
}

// NewTable returns an empty table with the given parameter columns, in order.
func NewTable(params ...string) *Table {
	return &Table{
		params: append([]string(nil), params...),
		rows:   make(map[time.Time]Row),
	}
}

// DateOf truncates t to midnight UTC, the canonical form for table keys.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Params returns the parameter columns in declaration order.
func (t *Table) Params() []string {
	return append([]string(nil), t.params...)
}

// Len returns the number of dates in the table.
func (t *Table) Len() int {
	return len(t.rows)
}

// Set stores a single value, creating the date's row if needed.
func (t *Table) Set(date time.Time, param string, v sql.NullFloat64) {
	d := DateOf(date)
	row, ok := t.rows[d]
	if !ok {
		row = make(Row, len(t.params))
		t.rows[d] = row
	}
	row[param] = v
}

// SetRow replaces the whole row for a date. The row is copied.
func (t *Table) SetRow(date time.Time, row Row) {
	t.rows[DateOf(date)] = copyRow(row)
}

// Get returns a copy of the row for a date, or ok=false when the date is
// not present.
func (t *Table) Get(date time.Time) (Row, bool) {
	row, ok := t.rows[DateOf(date)]
	if !ok {
		return nil, false
	}
	return copyRow(row), true
}

// Dates returns every date in the table, ascending.
func (t *Table) Dates() []time.Time {
	dates := make([]time.Time, 0, len(t.rows))
	for d := range t.rows {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Bounds returns the earliest and latest dates present. ok is false for an
// empty table.
func (t *Table) Bounds() (start, end time.Time, ok bool) {
	for d := range t.rows {
		if !ok || d.Before(start) {
			start = d
		}
		if !ok || d.After(end) {
			end = d
		}
		ok = true
	}
	return start, end, ok
}

// Merge combines existing and incoming into a new table. Dates present only
// in one input are kept as-is; dates present in both are taken entirely from
// incoming. Neither input is modified. The inputs must expose identical
// parameter columns or Merge fails with ErrSchemaMismatch.
func Merge(existing, incoming *Table) (*Table, error) {
	if !schemaEqual(existing.params, incoming.params) {
		return nil, fmt.Errorf("merge %v with %v: %w", existing.params, incoming.params, ErrSchemaMismatch)
	}

	merged := NewTable(existing.params...)
	for d, row := range existing.rows {
		if _, overlap := incoming.rows[d]; overlap {
			continue
		}
		merged.rows[d] = copyRow(row)
	}
	for d, row := range incoming.rows {
		merged.rows[d] = copyRow(row)
	}
	return merged, nil
}

func schemaEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyRow(row Row) Row {
	dup := make(Row, len(row))
	for k, v := range row {
		dup[k] = v
	}
	return dup
}

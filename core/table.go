package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrDuplicateColumn is returned when a result set names a column twice
	ErrDuplicateColumn = errors.New("duplicate column")
	// ErrRowWidth is returned when a row does not match the column count
	ErrRowWidth = errors.New("row width does not match column count")
)

// Table is a column/row result set as returned by the backend.
// Cells hold JSON scalars: string, json.Number, float64, bool or nil.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Validate checks that column names are unique and every row has one
// cell per column.
func (t *Table) Validate() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, ok := seen[c]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateColumn, c)
		}
		seen[c] = struct{}{}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: row %d has %d cells, want %d", ErrRowWidth, i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Index returns the position of the named column or -1.
func (t *Table) Index(column string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Has reports whether every named column is present.
func (t *Table) Has(columns ...string) bool {
	for _, c := range columns {
		if t.Index(c) < 0 {
			return false
		}
	}
	return true
}

// Value returns the cell of row i in the named column, or nil when the
// column or row does not exist.
func (t *Table) Value(i int, column string) any {
	idx := t.Index(column)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return nil
	}
	return t.Rows[i][idx]
}

// String returns the cell of row i in the named column as a string.
// Missing cells and nulls return "".
func (t *Table) String(i int, column string) string {
	return ScalarString(t.Value(i, column))
}

// Clone returns a deep copy of the table so that renderers can never
// mutate state owned by the search session.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// ScalarString converts a JSON scalar to its string form. Integral numbers
// are rendered without a fractional part so numeric identifiers compare
// equal to their string spelling.
func ScalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// IsNull reports whether a cell should be treated as absent.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

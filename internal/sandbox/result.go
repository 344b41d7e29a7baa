package sandbox

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/soham407/sqlquest/internal/storage"
)

// StatusMessage is the single cell returned for batches that produce no
// result set.
const StatusMessage = "Query executed successfully."

// QueryResult is the outcome of one Execute call. A failed call has empty
// Columns and Rows, a zero RowCount and a non-empty Error.
type QueryResult struct {
	Columns       []string          `json:"columns"`
	Rows          [][]storage.Value `json:"rows"`
	ExecutionTime float64           `json:"executionTime"` // seconds
	RowCount      int               `json:"rowCount"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
}

// MarshalJSON encodes empty columns and rows as [] rather than null.
func (r QueryResult) MarshalJSON() ([]byte, error) {
	type plain QueryResult
	p := plain(r)
	if p.Columns == nil {
		p.Columns = []string{}
	}
	if p.Rows == nil {
		p.Rows = [][]storage.Value{}
	}
	return json.Marshal(p)
}

// IsStatus reports whether r is the synthetic status shape.
func (r QueryResult) IsStatus() bool {
	return r.Success && len(r.Columns) == 1 && r.Columns[0] == "status" &&
		len(r.Rows) == 1 && len(r.Rows[0]) == 1 && r.Rows[0][0] == storage.Text(StatusMessage) &&
		r.RowCount == 0
}

func statusResult() QueryResult {
	return QueryResult{
		Columns: []string{"status"},
		Rows:    [][]storage.Value{{storage.Text(StatusMessage)}},
		Success: true,
	}
}

// NewResult builds a successful result carrying a result set.
func NewResult(cols []string, rows [][]storage.Value) QueryResult {
	return rowsResult(cols, rows)
}

func rowsResult(cols []string, rows [][]storage.Value) QueryResult {
	if cols == nil {
		cols = []string{}
	}
	if rows == nil {
		rows = [][]storage.Value{}
	}
	return QueryResult{Columns: cols, Rows: rows, RowCount: len(rows), Success: true}
}

func failedResult(msg string) QueryResult {
	return QueryResult{Columns: []string{}, Rows: [][]storage.Value{}, Error: msg}
}

// Equal reports whether two results carry the same outcome, columns and rows
// in the same order. ExecutionTime is ignored.
func Equal(a, b QueryResult) bool { return Diff(a, b, true) == "" }

// Diff describes the first difference between got and want, or returns ""
// when they match. Values compare numerically across integer and real, so 3
// equals 3.0. Unless ordered is set rows compare as a multiset.
func Diff(got, want QueryResult, ordered bool) string {
	if got.Success != want.Success {
		if !got.Success {
			return "query failed: " + got.Error
		}
		return "query succeeded but an error was expected: " + want.Error
	}
	if !got.Success {
		if got.Error != want.Error {
			return fmt.Sprintf("error: got %q, want %q", got.Error, want.Error)
		}
		return ""
	}
	if !slices.EqualFunc(got.Columns, want.Columns, strings.EqualFold) {
		return fmt.Sprintf("columns: got %s, want %s", formatNames(got.Columns), formatNames(want.Columns))
	}
	if len(got.Rows) != len(want.Rows) {
		return fmt.Sprintf("row count: got %d, want %d", len(got.Rows), len(want.Rows))
	}
	if ordered {
		for i := range got.Rows {
			if storage.RowKey(got.Rows[i]) != storage.RowKey(want.Rows[i]) {
				return fmt.Sprintf("row %d: got %s, want %s", i+1, FormatRow(got.Rows[i]), FormatRow(want.Rows[i]))
			}
		}
		return ""
	}
	counts := make(map[string]int, len(want.Rows))
	for _, r := range want.Rows {
		counts[storage.RowKey(r)]++
	}
	for _, r := range got.Rows {
		k := storage.RowKey(r)
		if counts[k] == 0 {
			return "unexpected row " + FormatRow(r)
		}
		counts[k]--
	}
	// Equal lengths and every got row matched, so nothing is missing.
	return ""
}

// FormatRow renders a row as a parenthesized tuple of SQL literals.
func FormatRow(row []storage.Value) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = storage.Literal(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatNames(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}

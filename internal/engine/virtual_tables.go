package engine

import (
	"sort"
	"strings"

	"github.com/soham407/sqlquest/internal/storage"
)

// ============================================================================
// Virtual catalog tables
//
// These are computed on the fly from the database and never stored:
//
//   sqlite_master  type, name, tbl_name, sql (one row per table)
//   sys.tables     name, columns, rows
//   sys.columns    table_name, name, position, data_type, not_null, primary_key
//   sys.functions  name, function_type
//
// A real table with the same name shadows the virtual one.
// ============================================================================

type virtualTable struct {
	cols []string
	rows func(db *storage.DB) [][]storage.Value
}

var virtualTables = map[string]virtualTable{
	"sqlite_master": {
		cols: []string{"type", "name", "tbl_name", "sql"},
		rows: masterRows,
	},
	"sqlite_schema": {
		cols: []string{"type", "name", "tbl_name", "sql"},
		rows: masterRows,
	},
	"sys.tables": {
		cols: []string{"name", "columns", "rows"},
		rows: sysTablesRows,
	},
	"sys.columns": {
		cols: []string{"table_name", "name", "position", "data_type", "not_null", "primary_key"},
		rows: sysColumnsRows,
	},
	"sys.functions": {
		cols: []string{"name", "function_type"},
		rows: func(*storage.DB) [][]storage.Value { return sysFunctionsRows() },
	},
}

// lookupVirtual returns the relation for a virtual table, or false when name
// is not one.
func lookupVirtual(db *storage.DB, name, qualifier string) (*relation, bool) {
	vt, ok := virtualTables[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	cols := make([]colInfo, len(vt.cols))
	for i, c := range vt.cols {
		cols[i] = colInfo{table: qualifier, name: c}
	}
	rows := vt.rows(db)
	if rows == nil {
		rows = [][]storage.Value{}
	}
	return &relation{cols: cols, rows: rows}, true
}

func masterRows(db *storage.DB) [][]storage.Value {
	var rows [][]storage.Value
	for _, t := range db.ListTables() {
		rows = append(rows, []storage.Value{
			storage.Text("table"), storage.Text(t.Name), storage.Text(t.Name), storage.Text(t.CreateSQL()),
		})
	}
	return rows
}

func sysTablesRows(db *storage.DB) [][]storage.Value {
	var rows [][]storage.Value
	for _, t := range db.ListTables() {
		rows = append(rows, []storage.Value{
			storage.Text(t.Name), storage.Int(int64(len(t.Cols))), storage.Int(int64(len(t.Rows))),
		})
	}
	return rows
}

func sysColumnsRows(db *storage.DB) [][]storage.Value {
	var rows [][]storage.Value
	for _, t := range db.ListTables() {
		for i, c := range t.Cols {
			rows = append(rows, []storage.Value{
				storage.Text(t.Name),
				storage.Text(c.Name),
				storage.Int(int64(i + 1)),
				storage.Text(c.Decl()),
				storage.Bool(c.NotNull || c.PrimaryKey),
				storage.Bool(c.PrimaryKey),
			})
		}
	}
	return rows
}

func sysFunctionsRows() [][]storage.Value {
	names := make([]string, 0, len(scalarFuncs)+len(aggregateNames))
	kind := make(map[string]string, cap(names))
	for name := range scalarFuncs {
		names = append(names, name)
		kind[name] = "SCALAR"
	}
	for _, name := range aggregateNames {
		if _, dup := kind[name]; !dup {
			names = append(names, name)
		}
		// MIN and MAX are both; the aggregate form is the one people look up.
		kind[name] = "AGGREGATE"
	}
	sort.Strings(names)
	rows := make([][]storage.Value, len(names))
	for i, n := range names {
		rows[i] = []storage.Value{storage.Text(n), storage.Text(kind[n])}
	}
	return rows
}

// Package storage provides the in-memory data structures behind a sandbox.
//
// What: A catalog of tables with typed column metadata and positional rows of
// closed-variant cell values, plus the seed dataset every sandbox starts from.
// How: Tables store rows as [][]Value in column order; a lower-cased column
// index accelerates name lookups. Mutations are prepared on a copy of the row
// set and swapped in only once every row passed coercion and constraint
// checks, so a failing statement never leaves a half-applied table behind.
// Why: Nothing is persisted and every sandbox owns its own catalog, so a plain
// map of tables guarded by one mutex is all the structure the engine needs.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNoSuchTable is wrapped by lookups of unknown tables.
	ErrNoSuchTable = errors.New("no such table")
	// ErrNoSuchColumn is wrapped by lookups of unknown columns.
	ErrNoSuchColumn = errors.New("no such column")
	// ErrTableExists is wrapped when a table name is already taken.
	ErrTableExists = errors.New("already exists")
	// ErrTypeMismatch is wrapped when a value cannot be stored in a column.
	ErrTypeMismatch = errors.New("datatype mismatch")
	// ErrConstraint is wrapped by NOT NULL, PRIMARY KEY and UNIQUE violations.
	ErrConstraint = errors.New("constraint failed")
)

// ColType is the storage affinity of a column.
type ColType int

const (
	IntType ColType = iota
	FloatType
	TextType
)

var colTypeToString = map[ColType]string{
	IntType:   "INTEGER",
	FloatType: "REAL",
	TextType:  "TEXT",
}

func (t ColType) String() string {
	if s, ok := colTypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("ColType(%d)", int(t))
}

var typeNames = map[string]ColType{
	"INT":       IntType,
	"INTEGER":   IntType,
	"BIGINT":    IntType,
	"SMALLINT":  IntType,
	"TINYINT":   IntType,
	"MEDIUMINT": IntType,
	"BOOL":      IntType,
	"BOOLEAN":   IntType,
	"REAL":      FloatType,
	"FLOAT":     FloatType,
	"DOUBLE":    FloatType,
	"NUMERIC":   FloatType,
	"DECIMAL":   FloatType,
	"TEXT":      TextType,
	"VARCHAR":   TextType,
	"CHAR":      TextType,
	"NVARCHAR":  TextType,
	"NCHAR":     TextType,
	"CHARACTER": TextType,
	"STRING":    TextType,
	"CLOB":      TextType,
	"DATE":      TextType,
	"DATETIME":  TextType,
	"TIMESTAMP": TextType,
	"TIME":      TextType,
}

// ParseColType maps a declared SQL type name (without length arguments) to a
// column affinity.
func ParseColType(name string) (ColType, bool) {
	t, ok := typeNames[strings.ToUpper(strings.TrimSpace(name))]
	return t, ok
}

// Column describes one table column.
type Column struct {
	Name       string
	Type       ColType
	DeclType   string // type as written in CREATE TABLE, e.g. "VARCHAR(50)"
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	Default    *Value
}

// Decl returns the declared type, falling back to the affinity name.
func (c Column) Decl() string {
	if c.DeclType != "" {
		return c.DeclType
	}
	return c.Type.String()
}

// Table is a named relation with fixed column order.
type Table struct {
	Name    string
	Cols    []Column
	Rows    [][]Value
	Version int

	colPos map[string]int
}

// NewTable creates a table with the given columns and no rows.
func NewTable(name string, cols []Column) *Table {
	t := &Table{Name: name, Cols: cols}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.colPos = make(map[string]int, len(t.Cols))
	for i, c := range t.Cols {
		t.colPos[strings.ToLower(c.Name)] = i
	}
}

// ColIndex returns the position of a column by case-insensitive name.
func (t *Table) ColIndex(name string) (int, error) {
	if i, ok := t.colPos[strings.ToLower(name)]; ok {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %s", ErrNoSuchColumn, name)
}

// ColNames returns the column names in declaration order.
func (t *Table) ColNames() []string {
	out := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		out[i] = c.Name
	}
	return out
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	cols := make([]Column, len(t.Cols))
	copy(cols, t.Cols)
	c := NewTable(t.Name, cols)
	c.Rows = CloneRows(t.Rows)
	c.Version = t.Version
	return c
}

// CloneRows copies a row set so the copy can be mutated independently.
func CloneRows(rows [][]Value) [][]Value {
	out := make([][]Value, len(rows))
	for i, r := range rows {
		cp := make([]Value, len(r))
		copy(cp, r)
		out[i] = cp
	}
	return out
}

// Coerce converts v to the affinity of column i, or fails with
// ErrTypeMismatch / ErrConstraint.
func (t *Table) Coerce(i int, v Value) (Value, error) {
	col := t.Cols[i]
	if v.IsNull() {
		if col.NotNull || col.PrimaryKey {
			return v, fmt.Errorf("NOT NULL %w: %s.%s", ErrConstraint, t.Name, col.Name)
		}
		return v, nil
	}
	out, ok := CoerceTo(col.Type, v)
	if !ok {
		return v, fmt.Errorf("%w: cannot store %s %s in %s column %s.%s",
			ErrTypeMismatch, v.Kind(), quoteValue(v), col.Decl(), t.Name, col.Name)
	}
	return out, nil
}

// CoerceTo converts a non-NULL value to the given affinity.
func CoerceTo(typ ColType, v Value) (Value, bool) {
	switch typ {
	case IntType:
		switch v.Kind() {
		case KindInt:
			return v, true
		case KindFloat:
			f := v.Float64()
			if f == float64(int64(f)) {
				return Int(int64(f)), true
			}
		case KindText:
			if n, ok := ParseNumber(v.Str()); ok {
				return CoerceTo(IntType, n)
			}
		}
		return v, false
	case FloatType:
		switch v.Kind() {
		case KindInt, KindFloat:
			return Float(v.Float64()), true
		case KindText:
			if n, ok := ParseNumber(v.Str()); ok {
				return Float(n.Float64()), true
			}
		}
		return v, false
	}
	return Text(v.Str()), true
}

func quoteValue(v Value) string {
	if v.Kind() == KindText {
		return "'" + v.Str() + "'"
	}
	return v.String()
}

// CheckConstraints validates PRIMARY KEY and UNIQUE columns over a complete
// candidate row set.
func (t *Table) CheckConstraints(rows [][]Value) error {
	for ci, col := range t.Cols {
		if !col.PrimaryKey && !col.Unique {
			continue
		}
		seen := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			if r[ci].IsNull() {
				continue
			}
			k := r[ci].Key()
			if _, dup := seen[k]; dup {
				return fmt.Errorf("UNIQUE %w: %s.%s", ErrConstraint, t.Name, col.Name)
			}
			seen[k] = struct{}{}
		}
	}
	return nil
}

// Replace swaps in a new row set after validating constraints. On error the
// table is unchanged.
func (t *Table) Replace(rows [][]Value) error {
	if err := t.CheckConstraints(rows); err != nil {
		return err
	}
	t.Rows = rows
	t.Version++
	return nil
}

// AddColumn appends a column, filling existing rows with its default.
func (t *Table) AddColumn(col Column) error {
	if _, err := t.ColIndex(col.Name); err == nil {
		return fmt.Errorf("duplicate column name: %s", col.Name)
	}
	if col.PrimaryKey || col.Unique {
		return fmt.Errorf("cannot add a PRIMARY KEY or UNIQUE column")
	}
	fill := Null()
	if col.Default != nil {
		fill = *col.Default
	}
	if !fill.IsNull() {
		v, ok := CoerceTo(col.Type, fill)
		if !ok {
			return fmt.Errorf("%w: default %s does not fit %s column %s", ErrTypeMismatch, quoteValue(fill), col.Decl(), col.Name)
		}
		fill = v
	}
	if fill.IsNull() && col.NotNull && len(t.Rows) > 0 {
		return fmt.Errorf("cannot add a NOT NULL column with default value NULL")
	}
	rows := make([][]Value, len(t.Rows))
	for i, r := range t.Rows {
		nr := make([]Value, len(r), len(r)+1)
		copy(nr, r)
		rows[i] = append(nr, fill)
	}
	t.Cols = append(t.Cols, col)
	t.Rows = rows
	t.Version++
	t.reindex()
	return nil
}

// RenameColumn changes a column name in place.
func (t *Table) RenameColumn(from, to string) error {
	i, err := t.ColIndex(from)
	if err != nil {
		return err
	}
	if j, err := t.ColIndex(to); err == nil && j != i {
		return fmt.Errorf("duplicate column name: %s", to)
	}
	t.Cols[i].Name = to
	t.Version++
	t.reindex()
	return nil
}

// DB is the catalog of tables owned by one sandbox.
type DB struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewDB returns an empty catalog.
func NewDB() *DB {
	return &DB{tables: make(map[string]*Table)}
}

// Get returns a table by case-insensitive name.
func (db *DB) Get(name string) (*Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if t, ok := db.tables[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
}

// Has reports whether a table exists.
func (db *DB) Has(name string) bool {
	_, err := db.Get(name)
	return err == nil
}

// Put registers a new table.
func (db *DB) Put(t *Table) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	k := strings.ToLower(t.Name)
	if _, exists := db.tables[k]; exists {
		return fmt.Errorf("table %s %w", t.Name, ErrTableExists)
	}
	db.tables[k] = t
	return nil
}

// Drop removes a table.
func (db *DB) Drop(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	k := strings.ToLower(name)
	if _, ok := db.tables[k]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	delete(db.tables, k)
	return nil
}

// Rename moves a table to a new name.
func (db *DB) Rename(from, to string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	fk, tk := strings.ToLower(from), strings.ToLower(to)
	t, ok := db.tables[fk]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, from)
	}
	if _, exists := db.tables[tk]; exists && tk != fk {
		return fmt.Errorf("table %s %w", to, ErrTableExists)
	}
	delete(db.tables, fk)
	t.Name = to
	t.Version++
	db.tables[tk] = t
	return nil
}

// ListTables returns all tables sorted by name.
func (db *DB) ListTables() []*Table {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]*Table, 0, len(db.tables))
	for _, t := range db.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Clone deep-copies the catalog.
func (db *DB) Clone() *DB {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := NewDB()
	for k, t := range db.tables {
		out.tables[k] = t.Clone()
	}
	return out
}

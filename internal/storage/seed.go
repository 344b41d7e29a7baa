package storage

import (
	"fmt"
	"strings"
)

// Seed is the dataset a fresh sandbox is populated with.
type Seed struct {
	Tables []SeedTable
}

// SeedTable is one table of a Seed.
type SeedTable struct {
	Name    string
	Columns []Column
	Rows    [][]Value
}

// DefaultSeed returns the practice dataset: three employees across two of three
// departments.
func DefaultSeed() *Seed {
	return &Seed{Tables: []SeedTable{
		{
			Name: "employees",
			Columns: []Column{
				{Name: "id", Type: IntType, DeclType: "INT"},
				{Name: "first_name", Type: TextType, DeclType: "VARCHAR"},
				{Name: "last_name", Type: TextType, DeclType: "VARCHAR"},
				{Name: "salary", Type: FloatType, DeclType: "REAL"},
				{Name: "department_id", Type: IntType, DeclType: "INT"},
			},
			Rows: [][]Value{
				{Int(1), Text("John"), Text("Doe"), Float(75000), Int(1)},
				{Int(2), Text("Jane"), Text("Smith"), Float(80000), Int(2)},
				{Int(3), Text("Mike"), Text("Johnson"), Float(70000), Int(1)},
			},
		},
		{
			Name: "departments",
			Columns: []Column{
				{Name: "id", Type: IntType, DeclType: "INT"},
				{Name: "name", Type: TextType, DeclType: "VARCHAR"},
			},
			Rows: [][]Value{
				{Int(1), Text("Engineering")},
				{Int(2), Text("Marketing")},
				{Int(3), Text("Sales")},
			},
		},
	}}
}

// Load creates the seed tables in db. It fails if a table already exists or a
// row does not fit its table.
func (s *Seed) Load(db *DB) error {
	for _, st := range s.Tables {
		cols := make([]Column, len(st.Columns))
		copy(cols, st.Columns)
		t := NewTable(st.Name, cols)
		rows := make([][]Value, 0, len(st.Rows))
		for ri, r := range st.Rows {
			if len(r) != len(cols) {
				return fmt.Errorf("seed %s row %d: has %d values, want %d", st.Name, ri, len(r), len(cols))
			}
			row := make([]Value, len(r))
			for ci, v := range r {
				cv, err := t.Coerce(ci, v)
				if err != nil {
					return fmt.Errorf("seed %s row %d: %w", st.Name, ri, err)
				}
				row[ci] = cv
			}
			rows = append(rows, row)
		}
		if err := t.Replace(rows); err != nil {
			return fmt.Errorf("seed %s: %w", st.Name, err)
		}
		if err := db.Put(t); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}

// Statements renders the seed as SQL statements (one CREATE TABLE and one
// multi-row INSERT per table) for substrates that are fed SQL text.
func (s *Seed) Statements() []string {
	var out []string
	for _, st := range s.Tables {
		out = append(out, createSQL(st.Name, st.Columns))
		if len(st.Rows) == 0 {
			continue
		}
		tuples := make([]string, len(st.Rows))
		for i, r := range st.Rows {
			lits := make([]string, len(r))
			for j, v := range r {
				lits[j] = Literal(v)
			}
			tuples[i] = "(" + strings.Join(lits, ", ") + ")"
		}
		out = append(out, fmt.Sprintf("INSERT INTO %s VALUES %s", QuoteIdent(st.Name), strings.Join(tuples, ", ")))
	}
	return out
}

// CreateSQL renders the CREATE TABLE statement that defines t.
func (t *Table) CreateSQL() string { return createSQL(t.Name, t.Cols) }

func createSQL(name string, cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		def := QuoteIdent(c.Name) + " " + c.Decl()
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Unique {
			def += " UNIQUE"
		}
		if c.Default != nil {
			def += " DEFAULT " + Literal(*c.Default)
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(name), strings.Join(defs, ", "))
}

// Literal renders v as a SQL literal.
func Literal(v Value) string {
	switch v.Kind() {
	case KindNull:
		return "NULL"
	case KindText:
		return "'" + strings.ReplaceAll(v.Str(), "'", "''") + "'"
	}
	return v.Str()
}

// QuoteIdent double-quotes an identifier when it is not a plain lower-case
// word.
func QuoteIdent(name string) string {
	plain := name != ""
	for i, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (i > 0 && r >= '0' && r <= '9')) {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

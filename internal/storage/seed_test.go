package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSeedLoads(t *testing.T) {
	db := NewDB()
	require.NoError(t, DefaultSeed().Load(db))

	emp, err := db.Get("employees")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "first_name", "last_name", "salary", "department_id"}, emp.ColNames())
	require.Len(t, emp.Rows, 3)
	assert.Equal(t, []Value{Int(2), Text("Jane"), Text("Smith"), Float(80000), Int(2)}, emp.Rows[1])

	dept, err := db.Get("departments")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, dept.ColNames())
	assert.Len(t, dept.Rows, 3)

	assert.Error(t, DefaultSeed().Load(db), "loading twice must collide")
}

func TestSeedStatements(t *testing.T) {
	seed := &Seed{Tables: []SeedTable{{
		Name: "Notes",
		Columns: []Column{
			{Name: "id", Type: IntType, DeclType: "INTEGER", PrimaryKey: true},
			{Name: "body", Type: TextType},
		},
		Rows: [][]Value{{Int(1), Text("it's")}, {Int(2), Null()}},
	}}}

	assert.Equal(t, []string{
		`CREATE TABLE "Notes" (id INTEGER PRIMARY KEY, body TEXT)`,
		`INSERT INTO "Notes" VALUES (1, 'it''s'), (2, NULL)`,
	}, seed.Statements())
}

func TestSeedRejectsBadRows(t *testing.T) {
	seed := &Seed{Tables: []SeedTable{{
		Name:    "t",
		Columns: []Column{{Name: "id", Type: IntType}},
		Rows:    [][]Value{{Text("nope")}},
	}}}
	assert.ErrorIs(t, seed.Load(NewDB()), ErrTypeMismatch)
}

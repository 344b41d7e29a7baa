package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBCatalog(t *testing.T) {
	db := NewDB()
	require.NoError(t, db.Put(NewTable("Zeta", []Column{{Name: "a", Type: IntType}})))
	require.NoError(t, db.Put(NewTable("alpha", []Column{{Name: "b", Type: TextType}})))

	err := db.Put(NewTable("ZETA", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTableExists))
	assert.Equal(t, "table ZETA already exists", err.Error())

	tb, err := db.Get("zeta")
	require.NoError(t, err)
	assert.Equal(t, "Zeta", tb.Name)

	var names []string
	for _, tb := range db.ListTables() {
		names = append(names, tb.Name)
	}
	assert.Equal(t, []string{"alpha", "Zeta"}, names)

	require.NoError(t, db.Rename("alpha", "beta"))
	assert.False(t, db.Has("alpha"))
	assert.True(t, db.Has("beta"))

	require.NoError(t, db.Drop("beta"))
	_, err = db.Get("beta")
	assert.True(t, errors.Is(err, ErrNoSuchTable))
	assert.Equal(t, "no such table: beta", err.Error())
	assert.Error(t, db.Drop("beta"))
}

func TestColIndexCaseInsensitive(t *testing.T) {
	tb := NewTable("t", []Column{{Name: "First_Name", Type: TextType}})
	i, err := tb.ColIndex("first_name")
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	_, err = tb.ColIndex("nope")
	assert.True(t, errors.Is(err, ErrNoSuchColumn))
}

func TestCoerce(t *testing.T) {
	tb := NewTable("t", []Column{
		{Name: "i", Type: IntType, DeclType: "INT"},
		{Name: "f", Type: FloatType},
		{Name: "s", Type: TextType},
		{Name: "nn", Type: IntType, NotNull: true},
	})

	tests := []struct {
		col  int
		in   Value
		want Value
		err  error
	}{
		{0, Int(1), Int(1), nil},
		{0, Float(2), Int(2), nil},
		{0, Text("3"), Int(3), nil},
		{0, Float(2.5), Value{}, ErrTypeMismatch},
		{0, Text("abc"), Value{}, ErrTypeMismatch},
		{1, Int(4), Float(4), nil},
		{1, Text("4.5"), Float(4.5), nil},
		{2, Int(5), Text("5"), nil},
		{2, Float(5), Text("5.0"), nil},
		{0, Null(), Null(), nil},
		{3, Null(), Value{}, ErrConstraint},
	}
	for _, tt := range tests {
		got, err := tb.Coerce(tt.col, tt.in)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, "col %d value %v", tt.col, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.True(t, Identical(tt.want, got), "want %v got %v", tt.want, got)
	}

	_, err := tb.Coerce(0, Text("abc"))
	assert.EqualError(t, err, "datatype mismatch: cannot store text 'abc' in INT column t.i")
}

func TestReplaceRejectsDuplicateKeys(t *testing.T) {
	tb := NewTable("t", []Column{{Name: "id", Type: IntType, PrimaryKey: true}, {Name: "v", Type: TextType}})
	require.NoError(t, tb.Replace([][]Value{{Int(1), Text("a")}}))

	err := tb.Replace([][]Value{{Int(1), Text("a")}, {Int(1), Text("b")}})
	assert.ErrorIs(t, err, ErrConstraint)
	assert.Len(t, tb.Rows, 1)
	assert.Equal(t, 1, tb.Version)
}

func TestAddColumn(t *testing.T) {
	tb := NewTable("t", []Column{{Name: "id", Type: IntType}})
	require.NoError(t, tb.Replace([][]Value{{Int(1)}, {Int(2)}}))

	def := Text("x")
	require.NoError(t, tb.AddColumn(Column{Name: "tag", Type: TextType, Default: &def}))
	assert.Equal(t, []string{"id", "tag"}, tb.ColNames())
	assert.Equal(t, []Value{Int(2), Text("x")}, tb.Rows[1])

	assert.Error(t, tb.AddColumn(Column{Name: "TAG", Type: TextType}))
	assert.Error(t, tb.AddColumn(Column{Name: "req", Type: IntType, NotNull: true}))
}

func TestCloneIsIndependent(t *testing.T) {
	db := NewDB()
	require.NoError(t, DefaultSeed().Load(db))
	cp := db.Clone()

	emp, err := cp.Get("employees")
	require.NoError(t, err)
	emp.Rows[0][1] = Text("Changed")

	orig, err := db.Get("employees")
	require.NoError(t, err)
	assert.Equal(t, Text("John"), orig.Rows[0][1])
}

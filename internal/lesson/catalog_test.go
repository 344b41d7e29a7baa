package lesson

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soham407/sqlquest/internal/storage"
)

func TestBundledCatalog(t *testing.T) {
	c, err := Bundled()
	require.NoError(t, err)
	require.Greater(t, c.Len(), 5)

	lessons, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "select-basics", lessons[0].ID)
	for i := 1; i < len(lessons); i++ {
		assert.LessOrEqual(t, lessons[i-1].Order, lessons[i].Order, "lessons are sorted by order")
	}
	for _, l := range lessons {
		assert.True(t, l.Difficulty.Valid(), l.ID)
		assert.NotEmpty(t, l.Content, l.ID)
		assert.NotEmpty(t, l.Hints, l.ID)
	}

	l, err := c.Get(context.Background(), "left-join")
	require.NoError(t, err)
	assert.True(t, l.Ordered)
	require.NotNil(t, l.Expected)
	assert.Equal(t, []string{"name", "headcount"}, l.Expected.Columns)
	assert.True(t, storage.Identical(storage.Int(0), l.Expected.Rows[2][1]))
}

func TestGetUnknownLesson(t *testing.T) {
	c, err := Bundled()
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "lesson not found: nope")
}

func TestLoadSortsAndDefaults(t *testing.T) {
	fsys := fstest.MapFS{
		"b.yaml": {Data: []byte(`
lessons:
  - id: zeta
    order: 1
    title: Z
    solution: SELECT 1
  - id: alpha
    order: 1
    title: A
    solution: SELECT 2
`)},
		"a.yml": {Data: []byte(`
lessons:
  - id: first
    title: F
    expected:
      columns: [n, label, share]
      rows:
        - [1, one, 0.5]
        - [null, two, 2]
`)},
		"notes.txt": {Data: []byte("ignored")},
	}
	lessons, err := Load(fsys)
	require.NoError(t, err)
	require.Len(t, lessons, 3)
	assert.Equal(t, []string{"first", "alpha", "zeta"}, []string{lessons[0].ID, lessons[1].ID, lessons[2].ID})
	assert.Equal(t, Beginner, lessons[0].Difficulty)

	rows := lessons[0].Expected.Rows
	assert.True(t, storage.Identical(storage.Int(1), rows[0][0]))
	assert.True(t, storage.Identical(storage.Text("one"), rows[0][1]))
	assert.True(t, storage.Identical(storage.Float(0.5), rows[0][2]))
	assert.True(t, rows[1][0].IsNull())
}

func TestLoadRejectsBadLessons(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{
			name: "missing id",
			yaml: "lessons:\n  - title: T\n    solution: SELECT 1\n",
			err:  "bad.yaml: missing id",
		},
		{
			name: "no answer",
			yaml: "lessons:\n  - id: x\n    title: T\n",
			err:  "bad.yaml: lesson x: needs a solution or an expected result",
		},
		{
			name: "difficulty",
			yaml: "lessons:\n  - id: x\n    title: T\n    difficulty: Expert\n    solution: SELECT 1\n",
			err:  `bad.yaml: lesson x: unknown difficulty "Expert"`,
		},
		{
			name: "duplicate",
			yaml: "lessons:\n  - id: x\n    title: T\n    solution: SELECT 1\n  - id: x\n    title: U\n    solution: SELECT 2\n",
			err:  `bad.yaml: duplicate lesson id "x" (first defined in bad.yaml)`,
		},
		{
			name: "ragged expected row",
			yaml: "lessons:\n  - id: x\n    title: T\n    expected:\n      columns: [a, b]\n      rows:\n        - [1]\n",
			err:  "expected row 1 has 1 values, want 2",
		},
		{
			name: "unknown field",
			yaml: "lessons:\n  - id: x\n    title: T\n    solutoin: SELECT 1\n",
			err:  "field solutoin not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(fstest.MapFS{"bad.yaml": {Data: []byte(tt.yaml)}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestReloadKeepsLessonsOnError(t *testing.T) {
	fsys := fstest.MapFS{
		"l.yaml": {Data: []byte("lessons:\n  - id: one\n    title: One\n    solution: SELECT 1\n")},
	}
	c, err := NewCatalog(fsys)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	fsys["l.yaml"] = &fstest.MapFile{Data: []byte("lessons: [")}
	assert.Error(t, c.Reload())
	_, err = c.Get(context.Background(), "one")
	assert.NoError(t, err)

	fsys["l.yaml"] = &fstest.MapFile{Data: []byte("lessons:\n  - id: two\n    title: Two\n    solution: SELECT 2\n")}
	require.NoError(t, c.Reload())
	_, err = c.Get(context.Background(), "one")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(context.Background(), "two")
	assert.NoError(t, err)
}

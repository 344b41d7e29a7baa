package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soham407/sqlquest/internal/lesson"
	"github.com/soham407/sqlquest/internal/sandbox"
)

// run executes the command line with args and returns stdout, stderr and
// the error.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestExecArgs(t *testing.T) {
	out, _, err := run(t, "", "exec", "-o", "csv", "SELECT first_name FROM employees ORDER BY id")
	require.NoError(t, err)
	assert.Contains(t, out, "first_name\nJohn\nJane\nMike")
}

func TestExecTable(t *testing.T) {
	out, _, err := run(t, "", "exec", "SELECT name FROM departments WHERE id = 2")
	require.NoError(t, err)
	assert.Contains(t, out, "Marketing")
	assert.Contains(t, out, "1 row (")
}

func TestExecStdinJSON(t *testing.T) {
	out, _, err := run(t, "SELECT COUNT(*) AS n FROM employees;", "exec", "-o", "json")
	require.NoError(t, err)

	var res sandbox.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, []string{"n"}, res.Columns)
	assert.Equal(t, int64(3), res.Rows[0][0].Int64())
}

func TestExecFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("DELETE FROM employees;"), 0o644))

	out, _, err := run(t, "", "exec", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, sandbox.StatusMessage)

	_, _, err = run(t, "", "exec", "-f", path, "SELECT 1")
	assert.EqualError(t, err, "give SQL as arguments or with --file, not both")
}

func TestExecFailure(t *testing.T) {
	out, _, err := run(t, "", "exec", "SELECT * FROM nope")
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.Contains(t, out, "Error: no such table: nope")
}

func TestExecLimitsFromFlags(t *testing.T) {
	out, _, err := run(t, "", "exec", "--max-statements", "1", "SELECT 1; SELECT 2")
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.Contains(t, out, "statement limit exceeded: 2 statements, at most 1 allowed")
}

func TestUnknownEngine(t *testing.T) {
	_, _, err := run(t, "", "exec", "--engine", "oracle", "SELECT 1")
	assert.ErrorContains(t, err, `unknown engine "oracle"`)
}

func TestReplPiped(t *testing.T) {
	script := strings.Join([]string{
		"INSERT INTO departments VALUES (4, 'Legal');",
		".tables",
		"SELECT name",
		"  FROM departments",
		"  WHERE id = 4;",
		".reset",
		"SELECT COUNT(*) AS n FROM departments;",
		".bogus",
		".quit",
		"SELECT 'never reached';",
	}, "\n")

	out, errOut, err := run(t, script, "repl", "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, sandbox.StatusMessage)
	assert.Contains(t, out, "departments  employees")
	assert.Contains(t, out, "name\nLegal")
	assert.Contains(t, out, "Sample data restored.")
	assert.Contains(t, out, "n\n3")
	assert.NotContains(t, out, "never reached")
	assert.NotContains(t, out, prompt)
	assert.Contains(t, errOut, "Unknown command: .bogus")
}

func TestReplRunsTrailingStatementAtEOF(t *testing.T) {
	out, _, err := run(t, "SELECT name FROM departments WHERE id = 3", "repl", "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "name\nSales")
}

func TestReplSchemaAndMode(t *testing.T) {
	out, errOut, err := run(t, ".schema employees\n.mode json\nSELECT 1 AS one;\n.schema nope\n", "repl")
	require.NoError(t, err)
	assert.Contains(t, out, "salary")
	assert.NotContains(t, out, "departments")
	assert.Contains(t, out, `"one"`)
	assert.Contains(t, errOut, "no such table: nope")
}

func TestSchemaCmd(t *testing.T) {
	out, _, err := run(t, "", "schema", "-o", "json")
	require.NoError(t, err)

	var s sandbox.Schema
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, []string{"departments", "employees"}, s.Names())
}

func TestLessonsList(t *testing.T) {
	out, _, err := run(t, "", "lessons", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "select-basics")
	assert.Contains(t, out, "Your first SELECT")
}

func TestLessonsShow(t *testing.T) {
	out, _, err := run(t, "", "lessons", "show", "filtering-rows")
	require.NoError(t, err)
	assert.Contains(t, out, "Filtering with WHERE")
	assert.Contains(t, out, "Hints:")
	assert.NotContains(t, out, "72000", "solution must not leak")

	_, _, err = run(t, "", "lessons", "show", "nope")
	assert.ErrorIs(t, err, lesson.ErrNotFound)
}

func TestLessonsCheck(t *testing.T) {
	out, _, err := run(t, "", "lessons", "check", "filtering-rows",
		"SELECT first_name, last_name FROM employees WHERE salary >= 75000")
	require.NoError(t, err)
	assert.Contains(t, out, "Correct!")

	out, _, err = run(t, "", "lessons", "check", "filtering-rows", "SELECT first_name FROM employees")
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.Contains(t, out, "Not quite: ")
}

func TestLessonsFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mine.yaml"),
		[]byte("lessons:\n  - id: mine\n    title: Mine\n    solution: SELECT 1\n"), 0o644))

	out, _, err := run(t, "", "lessons", "list", "--lessons-dir", dir, "-o", "json")
	require.NoError(t, err)
	var ls []lesson.Lesson
	require.NoError(t, json.Unmarshal([]byte(out), &ls))
	require.Len(t, ls, 1)
	assert.Equal(t, "mine", ls[0].ID)
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlquest dev")
	assert.Contains(t, out, "native")
}

func TestReadSQL(t *testing.T) {
	sql, err := readSQL(strings.NewReader("from stdin"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", sql)

	sql, err = readSQL(strings.NewReader("from stdin"), "-", nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", sql)

	sql, err = readSQL(nil, "", []string{"SELECT", "1"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)
}

package lesson

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soham407/sqlquest/internal/sandbox"
	"github.com/soham407/sqlquest/internal/storage"
	"github.com/soham407/sqlquest/internal/testutil"
)

func bundledLesson(t *testing.T, id string) Lesson {
	t.Helper()
	c, err := Bundled()
	require.NoError(t, err)
	l, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	return l
}

func newSandbox(t *testing.T, opts ...sandbox.Option) *sandbox.Sandbox {
	t.Helper()
	sb := sandbox.New(append(opts, sandbox.WithLogger(testutil.NewTestLogger(t)))...)
	t.Cleanup(func() { sb.Close() })
	return sb
}

func TestGraderChecksResults(t *testing.T) {
	g := NewGrader()
	ctx := context.Background()

	tests := []struct {
		name   string
		lesson string
		sql    string
		passed bool
		reason string
	}{
		{
			name:   "exact solution",
			lesson: "filtering-rows",
			sql:    "SELECT first_name, last_name FROM employees WHERE salary > 72000",
			passed: true,
		},
		{
			name:   "different query same result",
			lesson: "filtering-rows",
			sql:    "select first_name, last_name from employees where id <> 3 order by last_name desc",
			passed: true,
		},
		{
			name:   "wrong rows",
			lesson: "filtering-rows",
			sql:    "SELECT first_name, last_name FROM employees",
			reason: "row count: got 3, want 2",
		},
		{
			name:   "wrong columns",
			lesson: "filtering-rows",
			sql:    "SELECT first_name FROM employees WHERE salary > 72000",
			reason: "columns: got [first_name], want [first_name, last_name]",
		},
		{
			name:   "order matters",
			lesson: "sorting-results",
			sql:    "SELECT first_name, salary FROM employees ORDER BY salary",
			reason: "row 1: got ('Mike', 70000.0), want ('Jane', 80000.0)",
		},
		{
			name:   "order ignored",
			lesson: "grouping",
			sql:    "SELECT department_id, AVG(salary) AS avg_salary FROM employees GROUP BY department_id ORDER BY 1 DESC",
			passed: true,
		},
		{
			name:   "integer payroll equals real",
			lesson: "counting-rows",
			sql:    "SELECT 3 AS headcount, 225000 AS payroll",
			passed: true,
		},
		{
			name:   "failed query",
			lesson: "select-basics",
			sql:    "SELECT * FROM staff",
			reason: "query failed: no such table: staff",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.Check(ctx, newSandbox(t), bundledLesson(t, tt.lesson), tt.sql)
			assert.Equal(t, tt.passed, v.Passed, v.Reason)
			assert.Equal(t, tt.reason, v.Reason)
			if v.Expected != nil {
				assert.True(t, v.Expected.Success)
			}
		})
	}
}

func TestGraderUsesCallersSandbox(t *testing.T) {
	g := NewGrader()
	ctx := context.Background()
	sb := newSandbox(t)
	l := bundledLesson(t, "select-basics")

	require.True(t, sb.Execute(ctx, "DELETE FROM employees WHERE id = 3").Success)
	v := g.Check(ctx, sb, l, "SELECT * FROM employees")
	assert.False(t, v.Passed)
	assert.Equal(t, "row count: got 2, want 3", v.Reason)
}

func TestGraderLiteralExpected(t *testing.T) {
	l := Lesson{
		ID:    "literal",
		Title: "Literal",
		Expected: &Expected{
			Columns: []string{"n"},
			Rows:    [][]storage.Value{{storage.Int(3)}},
		},
	}
	v := NewGrader().Check(context.Background(), newSandbox(t), l, "SELECT COUNT(*) AS n FROM departments")
	assert.True(t, v.Passed, v.Reason)
}

func TestGraderBrokenSolution(t *testing.T) {
	l := Lesson{ID: "broken", Title: "Broken", Solution: "SELECT * FROM nowhere"}
	v := NewGrader().Check(context.Background(), newSandbox(t), l, "SELECT 1")
	assert.False(t, v.Passed)
	assert.Nil(t, v.Expected)
	assert.Equal(t, "lesson broken: solution failed: no such table: nowhere", v.Reason)
	assert.True(t, v.Result.Success)
}

func TestGraderCachesSolutions(t *testing.T) {
	g := NewGrader()
	l := bundledLesson(t, "grouping")

	first, err := g.Expected(context.Background(), l)
	require.NoError(t, err)
	second, err := g.Expected(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, g.cache, 1)
}

// Every bundled solution must give the same answer on SQLite, the engine
// the lessons were written against.
func TestSolutionsAgreeWithSQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("reference substrate")
	}
	c, err := Bundled()
	require.NoError(t, err)
	lessons, err := c.List(context.Background())
	require.NoError(t, err)

	native := NewGrader()
	reference := NewGrader(sandbox.WithSubstrate(sandbox.NewSQLite))
	for _, l := range lessons {
		t.Run(l.ID, func(t *testing.T) {
			got, err := native.Expected(context.Background(), Lesson{ID: l.ID, Solution: l.Solution})
			require.NoError(t, err)
			want, err := reference.Expected(context.Background(), Lesson{ID: l.ID, Solution: l.Solution})
			require.NoError(t, err)
			assert.Empty(t, sandbox.Diff(got, want, l.Ordered))

			if l.Expected != nil {
				literal, err := native.Expected(context.Background(), l)
				require.NoError(t, err)
				assert.Empty(t, sandbox.Diff(got, literal, l.Ordered), "expected block disagrees with solution")
			}
		})
	}
}

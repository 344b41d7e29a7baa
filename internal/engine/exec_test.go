package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soham407/sqlquest/internal/storage"
)

func seededDB(t *testing.T) *storage.DB {
	t.Helper()
	db := storage.NewDB()
	require.NoError(t, storage.DefaultSeed().Load(db))
	return db
}

func runSQL(ctx context.Context, db *storage.DB, sql string, opts Options) (*ResultSet, error) {
	sc, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	return ExecScript(ctx, db, sc, opts)
}

func mustQuery(t *testing.T, db *storage.DB, sql string) *ResultSet {
	t.Helper()
	rs, err := runSQL(context.Background(), db, sql, Options{})
	require.NoError(t, err, sql)
	require.NotNil(t, rs, sql)
	return rs
}

// plain converts result rows to Go values for easy comparison.
func plain(rows [][]storage.Value) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = make([]any, len(r))
		for j, v := range r {
			out[i][j] = v.Any()
		}
	}
	return out
}

func TestSelectQueries(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		cols []string
		rows [][]any
	}{
		{
			name: "star",
			sql:  "SELECT * FROM employees",
			cols: []string{"id", "first_name", "last_name", "salary", "department_id"},
			rows: [][]any{
				{int64(1), "John", "Doe", 75000.0, int64(1)},
				{int64(2), "Jane", "Smith", 80000.0, int64(2)},
				{int64(3), "Mike", "Johnson", 70000.0, int64(1)},
			},
		},
		{
			name: "filter and order",
			sql:  "SELECT first_name FROM employees WHERE salary > 72000 ORDER BY first_name",
			cols: []string{"first_name"},
			rows: [][]any{{"Jane"}, {"John"}},
		},
		{
			name: "inner join",
			sql: `SELECT e.first_name, d.name FROM employees e
				JOIN departments d ON e.department_id = d.id ORDER BY e.id`,
			cols: []string{"first_name", "name"},
			rows: [][]any{{"John", "Engineering"}, {"Jane", "Marketing"}, {"Mike", "Engineering"}},
		},
		{
			name: "left join with group",
			sql: `SELECT d.name, COUNT(e.id) AS n FROM departments d
				LEFT JOIN employees e ON e.department_id = d.id GROUP BY d.name ORDER BY d.name`,
			cols: []string{"name", "n"},
			rows: [][]any{{"Engineering", int64(2)}, {"Marketing", int64(1)}, {"Sales", int64(0)}},
		},
		{
			name: "right join unmatched",
			sql: `SELECT d.name, e.first_name FROM employees e
				RIGHT JOIN departments d ON e.department_id = d.id WHERE e.id IS NULL`,
			cols: []string{"name", "first_name"},
			rows: [][]any{{"Sales", nil}},
		},
		{
			name: "using join hides duplicate column",
			sql: `SELECT * FROM employees JOIN (SELECT id AS department_id, name FROM departments) d
				USING (department_id) WHERE id = 2`,
			cols: []string{"id", "first_name", "last_name", "salary", "department_id", "name"},
			rows: [][]any{{int64(2), "Jane", "Smith", 80000.0, int64(2), "Marketing"}},
		},
		{
			name: "aggregates without group",
			sql:  "SELECT COUNT(*), SUM(salary), AVG(salary), MIN(first_name), MAX(salary) FROM employees",
			cols: []string{"COUNT(*)", "SUM(salary)", "AVG(salary)", "MIN(first_name)", "MAX(salary)"},
			rows: [][]any{{int64(3), 225000.0, 75000.0, "Jane", 80000.0}},
		},
		{
			name: "aggregates over no rows",
			sql:  "SELECT COUNT(*), SUM(salary) FROM employees WHERE id > 10",
			cols: []string{"COUNT(*)", "SUM(salary)"},
			rows: [][]any{{int64(0), nil}},
		},
		{
			name: "having on alias",
			sql:  "SELECT department_id, COUNT(*) AS c FROM employees GROUP BY department_id HAVING c > 1",
			cols: []string{"department_id", "c"},
			rows: [][]any{{int64(1), int64(2)}},
		},
		{
			name: "scalar subquery",
			sql:  "SELECT first_name FROM employees WHERE salary > (SELECT AVG(salary) FROM employees)",
			cols: []string{"first_name"},
			rows: [][]any{{"Jane"}},
		},
		{
			name: "correlated exists",
			sql: `SELECT name FROM departments d
				WHERE EXISTS (SELECT 1 FROM employees e WHERE e.department_id = d.id) ORDER BY name`,
			cols: []string{"name"},
			rows: [][]any{{"Engineering"}, {"Marketing"}},
		},
		{
			name: "not in subquery",
			sql:  "SELECT name FROM departments WHERE id NOT IN (SELECT department_id FROM employees)",
			cols: []string{"name"},
			rows: [][]any{{"Sales"}},
		},
		{
			name: "union ordered by ordinal",
			sql: `SELECT first_name FROM employees WHERE department_id = 1
				UNION SELECT name FROM departments WHERE id = 1 ORDER BY 1`,
			cols: []string{"first_name"},
			rows: [][]any{{"Engineering"}, {"John"}, {"Mike"}},
		},
		{
			name: "cte",
			sql: `WITH eng AS (SELECT * FROM employees WHERE department_id = 1)
				SELECT last_name FROM eng ORDER BY salary DESC`,
			cols: []string{"last_name"},
			rows: [][]any{{"Doe"}, {"Johnson"}},
		},
		{
			name: "case expression",
			sql: `SELECT first_name, CASE WHEN salary >= 75000 THEN 'high' ELSE 'low' END AS band
				FROM employees ORDER BY id`,
			cols: []string{"first_name", "band"},
			rows: [][]any{{"John", "high"}, {"Jane", "high"}, {"Mike", "low"}},
		},
		{
			name: "distinct",
			sql:  "SELECT DISTINCT department_id FROM employees ORDER BY department_id DESC",
			cols: []string{"department_id"},
			rows: [][]any{{int64(2)}, {int64(1)}},
		},
		{
			name: "limit offset",
			sql:  "SELECT id FROM employees ORDER BY salary DESC LIMIT 2 OFFSET 1",
			cols: []string{"id"},
			rows: [][]any{{int64(1)}, {int64(3)}},
		},
		{
			name: "like and between",
			sql: `SELECT first_name FROM employees
				WHERE last_name LIKE '%O%' AND salary BETWEEN 70000 AND 75000 ORDER BY id`,
			cols: []string{"first_name"},
			rows: [][]any{{"John"}, {"Mike"}},
		},
		{
			name: "alias in where",
			sql:  "SELECT salary * 2 AS twice FROM employees WHERE twice > 150000",
			cols: []string{"twice"},
			rows: [][]any{{160000.0}},
		},
		{
			name: "arithmetic",
			sql:  "SELECT 7 / 2, 7 % 3, 7.0 / 2, 1 / 0, 'a' || 'b'",
			cols: []string{"7 / 2", "7 % 3", "7.0 / 2", "1 / 0", "'a' || 'b'"},
			rows: [][]any{{int64(3), int64(1), 3.5, nil, "ab"}},
		},
		{
			name: "three valued logic",
			sql:  "SELECT NULL AND 0, NULL OR 1, NOT NULL, NULL = NULL, NULL IS NULL",
			cols: []string{"NULL AND 0", "NULL OR 1", "NOT NULL", "NULL = NULL", "NULL IS NULL"},
			rows: [][]any{{int64(0), int64(1), nil, nil, int64(1)}},
		},
		{
			name: "scalar functions",
			sql: `SELECT UPPER(first_name), LENGTH(last_name), ROUND(salary / 1000, 1), COALESCE(NULL, 'x')
				FROM employees WHERE id = 1`,
			cols: []string{"UPPER(first_name)", "LENGTH(last_name)", "ROUND(salary / 1000, 1)", "COALESCE(NULL, 'x')"},
			rows: [][]any{{"JOHN", int64(3), 75.0, "x"}},
		},
		{
			name: "values body",
			sql:  "VALUES (1, 'a'), (2, 'b')",
			cols: []string{"column1", "column2"},
			rows: [][]any{{int64(1), "a"}, {int64(2), "b"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := mustQuery(t, seededDB(t), tt.sql)
			assert.Equal(t, tt.cols, rs.Cols)
			assert.Equal(t, tt.rows, plain(rs.Rows))
		})
	}
}

func TestEmptySelectKeepsColumns(t *testing.T) {
	rs := mustQuery(t, seededDB(t), "SELECT first_name, salary FROM employees WHERE 1 = 0")
	assert.Equal(t, []string{"first_name", "salary"}, rs.Cols)
	assert.NotNil(t, rs.Rows)
	assert.Empty(t, rs.Rows)
}

func TestNullOrdering(t *testing.T) {
	db := seededDB(t)
	mustExec(t, db, "INSERT INTO employees (id, first_name) VALUES (4, 'Ann')")

	asc := mustQuery(t, db, "SELECT id FROM employees ORDER BY salary")
	assert.Equal(t, [][]any{{int64(4)}, {int64(3)}, {int64(1)}, {int64(2)}}, plain(asc.Rows))

	desc := mustQuery(t, db, "SELECT id FROM employees ORDER BY salary DESC")
	assert.Equal(t, [][]any{{int64(2)}, {int64(1)}, {int64(3)}, {int64(4)}}, plain(desc.Rows))

	first := mustQuery(t, db, "SELECT id FROM employees ORDER BY salary DESC NULLS FIRST")
	assert.Equal(t, int64(4), first.Rows[0][0].Any())
}

func mustExec(t *testing.T, db *storage.DB, sql string) {
	t.Helper()
	rs, err := runSQL(context.Background(), db, sql, Options{})
	require.NoError(t, err, sql)
	require.Nil(t, rs, sql)
}

func TestDataModification(t *testing.T) {
	db := seededDB(t)

	mustExec(t, db, "UPDATE employees SET salary = salary + 5000 WHERE department_id = 1")
	rs := mustQuery(t, db, "SELECT salary FROM employees ORDER BY id")
	assert.Equal(t, [][]any{{80000.0}, {80000.0}, {75000.0}}, plain(rs.Rows))

	mustExec(t, db, "DELETE FROM employees WHERE last_name = 'Smith'")
	rs = mustQuery(t, db, "SELECT COUNT(*) FROM employees")
	assert.Equal(t, int64(2), rs.Rows[0][0].Any())

	mustExec(t, db, `CREATE TABLE rich (name TEXT NOT NULL, since INT DEFAULT 2020);
		INSERT INTO rich (name) SELECT first_name FROM employees WHERE salary >= 80000`)
	rs = mustQuery(t, db, "SELECT name, since FROM rich ORDER BY name")
	assert.Equal(t, [][]any{{"John", int64(2020)}}, plain(rs.Rows))
}

func TestSchemaChanges(t *testing.T) {
	db := seededDB(t)

	mustExec(t, db, "ALTER TABLE departments ADD COLUMN budget REAL DEFAULT 0")
	rs := mustQuery(t, db, "SELECT budget FROM departments WHERE id = 3")
	assert.Equal(t, [][]any{{0.0}}, plain(rs.Rows))

	mustExec(t, db, "ALTER TABLE departments RENAME COLUMN budget TO funds")
	mustQuery(t, db, "SELECT funds FROM departments")

	mustExec(t, db, "ALTER TABLE departments RENAME TO teams")
	assert.False(t, db.Has("departments"))
	assert.True(t, db.Has("teams"))

	mustExec(t, db, "CREATE TABLE payroll AS SELECT first_name, salary FROM employees")
	tb, err := db.Get("payroll")
	require.NoError(t, err)
	assert.Equal(t, storage.FloatType, tb.Cols[1].Type)
	assert.Len(t, tb.Rows, 3)

	mustExec(t, db, "DROP TABLE payroll; DROP TABLE IF EXISTS payroll")
	assert.False(t, db.Has("payroll"))

	mustExec(t, db, "CREATE TABLE IF NOT EXISTS teams (x INT)")
}

func TestScriptReturnsFirstResultSet(t *testing.T) {
	db := seededDB(t)
	rs := mustQuery(t, db, "INSERT INTO departments VALUES (4, 'Legal'); SELECT COUNT(*) FROM departments; SELECT 99")
	assert.Equal(t, [][]any{{int64(4)}}, plain(rs.Rows))

	rs = mustQuery(t, db, "BEGIN; SELECT name FROM departments WHERE id = 4; COMMIT")
	assert.Equal(t, [][]any{{"Legal"}}, plain(rs.Rows))
}

func TestStatementsAreAtomic(t *testing.T) {
	db := seededDB(t)

	_, err := runSQL(context.Background(), db,
		"CREATE TABLE t (id INT PRIMARY KEY); INSERT INTO t VALUES (1); INSERT INTO t VALUES (2), (1)", Options{})
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Statement)
	assert.EqualError(t, err, "UNIQUE constraint failed: t.id")
	assert.ErrorIs(t, err, storage.ErrConstraint)

	tb, err := db.Get("t")
	require.NoError(t, err, "earlier statements stay applied")
	assert.Len(t, tb.Rows, 1)

	_, err = runSQL(context.Background(), db,
		"UPDATE employees SET salary = CASE WHEN id = 3 THEN 'abc' ELSE 1 END", Options{})
	assert.EqualError(t, err, "datatype mismatch: cannot store text 'abc' in REAL column employees.salary")
	rs := mustQuery(t, db, "SELECT SUM(salary) FROM employees")
	assert.Equal(t, 225000.0, rs.Rows[0][0].Any())
}

func TestExecErrors(t *testing.T) {
	tests := []struct {
		sql string
		msg string
	}{
		{"SELECT * FROM nope", "no such table: nope"},
		{"SELECT nope FROM employees", "no such column: nope"},
		{"SELECT e.nope FROM employees e", "no such column: e.nope"},
		{"SELECT id FROM employees e JOIN departments d ON e.department_id = d.id", "ambiguous column name: id"},
		{"CREATE TABLE employees (x INT)", "table employees already exists"},
		{"INSERT INTO departments VALUES (4)", "table departments has 2 columns but 1 values were supplied"},
		{"INSERT INTO departments (id, nope) VALUES (4, 'x')", "table departments has no column named nope"},
		{"SELECT COUNT(*) FROM employees WHERE COUNT(*) > 1", "misuse of aggregate function COUNT()"},
		{"SELECT 1 UNION SELECT 1, 2", "SELECTs to the left and right of UNION do not have the same number of result columns"},
		{"SELECT id FROM employees WHERE id IN (SELECT id, name FROM departments)", "sub-select returns 2 columns - expected 1"},
		{"SELECT NOSUCH(1)", "no such function: NOSUCH"},
		{"SELECT UPPER()", "wrong number of arguments to function UPPER()"},
		{"CREATE TABLE n (a INT NOT NULL); INSERT INTO n VALUES (NULL)", "NOT NULL constraint failed: n.a"},
		{"INSERT INTO employees (id) VALUES ('seven')", "datatype mismatch: cannot store text 'seven' in INT column employees.id"},
		{"SELECT 1 UNION SELECT 2 ORDER BY nope", "1st ORDER BY term does not match any column in the result set"},
		{"DROP TABLE nope", "no such table: nope"},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			_, err := runSQL(context.Background(), seededDB(t), tt.sql, Options{})
			require.Error(t, err)
			assert.Equal(t, tt.msg, err.Error())
		})
	}
}

func TestRowLimit(t *testing.T) {
	db := seededDB(t)
	_, err := runSQL(context.Background(), db, "SELECT * FROM employees a, employees b", Options{MaxRows: 5})
	assert.ErrorIs(t, err, ErrRowLimit)

	rs, err := runSQL(context.Background(), db, "SELECT * FROM employees", Options{MaxRows: 5})
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 3)
}

func TestCancelledContextStopsExecution(t *testing.T) {
	db := seededDB(t)
	vals := make([]string, 60)
	for i := range vals {
		vals[i] = fmt.Sprintf("(%d)", i)
	}
	mustExec(t, db, "CREATE TABLE n (v INT); INSERT INTO n VALUES "+strings.Join(vals, ", "))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runSQL(ctx, db, "SELECT COUNT(*) FROM n a, n b", Options{})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestComparisonAffinity(t *testing.T) {
	db := seededDB(t)
	tests := []struct {
		sql  string
		want any
	}{
		{"SELECT 1 = '1'", int64(0)},
		{"SELECT 1 < 'a'", int64(1)},
		{"SELECT '10' > 9", int64(1)},
		{"SELECT 1 IN ('1', '2')", int64(0)},
		{"SELECT CAST('1' AS INTEGER) = '1'", int64(1)},
		{"SELECT CAST(1 AS TEXT) = 1", int64(1)},
		{"SELECT COUNT(*) FROM employees WHERE salary = '75000'", int64(1)},
		{"SELECT COUNT(*) FROM employees WHERE salary BETWEEN '60000' AND '75000'", int64(2)},
		{"SELECT COUNT(*) FROM employees WHERE id IN ('1', '3')", int64(2)},
		{"SELECT COUNT(*) FROM employees WHERE first_name = 5", int64(0)},
		{"SELECT CASE id WHEN '2' THEN 'hit' ELSE 'miss' END FROM employees WHERE id = 2", "hit"},
		{"SELECT CASE 2 WHEN '2' THEN 'hit' ELSE 'miss' END", "miss"},
		{"SELECT NULLIF(1, '1')", int64(1)},
	}
	for _, tt := range tests {
		rs := mustQuery(t, db, tt.sql)
		require.Len(t, rs.Rows, 1, tt.sql)
		assert.Equal(t, tt.want, rs.Rows[0][0].Any(), tt.sql)
	}
}

func TestCastSaturates(t *testing.T) {
	db := seededDB(t)
	rs := mustQuery(t, db, "SELECT CAST(1e20 AS INTEGER), CAST(-1e20 AS INTEGER), CAST('9e99' AS INT), CAST(2.9 AS INTEGER), 1e20 % 7")
	assert.Equal(t, [][]any{{
		int64(math.MaxInt64), int64(math.MinInt64), int64(math.MaxInt64), int64(2),
		float64(math.MaxInt64 % 7),
	}}, plain(rs.Rows))
}

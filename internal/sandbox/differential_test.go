package sandbox_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soham407/sqlquest/internal/sandbox"
)

// referenceQueries run on both the native engine and a reference substrate.
// Every projected expression is aliased so column names agree.
var referenceQueries = []string{
	"SELECT first_name, last_name FROM employees WHERE salary > 72000 ORDER BY salary DESC",
	`SELECT d.name AS department, COUNT(e.id) AS headcount
	   FROM departments d LEFT JOIN employees e ON e.department_id = d.id
	  GROUP BY d.name ORDER BY d.name`,
	"SELECT department_id, AVG(salary) AS avg_salary, MAX(salary) AS top FROM employees GROUP BY department_id ORDER BY department_id",
	"SELECT first_name FROM employees WHERE department_id IN (SELECT id FROM departments WHERE name = 'Engineering')",
	"SELECT first_name || ' ' || last_name AS full_name FROM employees WHERE first_name LIKE 'J%'",
	"SELECT name FROM departments WHERE NOT EXISTS (SELECT 1 FROM employees e WHERE e.department_id = departments.id)",
	"SELECT COUNT(*) AS n, SUM(salary) AS total, MIN(first_name) AS first FROM employees",
	"UPDATE employees SET salary = salary * 1.1 WHERE department_id = 2; SELECT first_name, salary FROM employees ORDER BY id",
	"SELECT first_name, CASE WHEN salary >= 75000 THEN 'senior' ELSE 'junior' END AS band FROM employees ORDER BY id",
	"SELECT DISTINCT department_id FROM employees ORDER BY department_id",
	"SELECT id FROM employees ORDER BY id LIMIT 2 OFFSET 1",
	"SELECT name FROM departments UNION SELECT first_name FROM employees",
	"DELETE FROM employees WHERE department_id = 1; SELECT COUNT(*) AS n FROM employees",
	"CREATE TABLE audit (id INT PRIMARY KEY, note TEXT); INSERT INTO audit VALUES (1, 'ok')",
	"SELECT * FROM nope",
	"SELECT e.first_name AS name, d.name AS dept FROM employees e JOIN departments d ON d.id = e.department_id WHERE d.name <> 'Sales' ORDER BY e.id",
}

func runDifferential(t *testing.T, reference sandbox.Factory) {
	t.Helper()
	for _, q := range referenceQueries {
		native := newSandbox(t)
		ref := newSandbox(t, sandbox.WithSubstrate(reference))

		got := native.Execute(context.Background(), q)
		want := ref.Execute(context.Background(), q)

		if !want.Success {
			// Error wording differs between engines; only the outcome must agree.
			assert.False(t, got.Success, "native accepted %q", q)
			continue
		}
		ordered := strings.Contains(strings.ToUpper(q), "ORDER BY")
		assert.Empty(t, sandbox.Diff(got, want, ordered), q)
	}
}

func TestNativeAgreesWithSQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("reference substrate")
	}
	runDifferential(t, sandbox.NewSQLite)
}

func TestSQLiteSubstrateSchema(t *testing.T) {
	sb := newSandbox(t, sandbox.WithSubstrate(sandbox.NewSQLite))
	schema, err := sb.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"departments", "employees"}, schema.Names())
	emp, ok := schema.Table("employees")
	require.True(t, ok)
	assert.Equal(t, 3, emp.RowCount)
	assert.Equal(t, sandbox.ColumnSchema{Name: "salary", Type: "REAL"}, emp.Columns[3])

	res := sb.Execute(context.Background(), "BEGIN; INSERT INTO departments VALUES (4, 'Legal'); COMMIT")
	require.True(t, res.Success, res.Error)
	assert.True(t, res.IsStatus())
}

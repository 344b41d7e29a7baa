//go:build cgo

package sandbox_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soham407/sqlquest/internal/sandbox"
)

func TestDuckDBSubstrate(t *testing.T) {
	if testing.Short() {
		t.Skip("reference substrate")
	}
	sb := newSandbox(t, sandbox.WithSubstrate(sandbox.NewDuckDB))

	schema, err := sb.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"departments", "employees"}, schema.Names())

	res := sb.Execute(context.Background(), `
		INSERT INTO departments VALUES (4, 'Legal');
		SELECT d.name AS department, COUNT(e.id) AS headcount
		  FROM departments d LEFT JOIN employees e ON e.department_id = d.id
		 GROUP BY d.name ORDER BY d.name`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"department", "headcount"}, res.Columns)
	assert.Equal(t, [][]any{
		{"Engineering", int64(2)},
		{"Legal", int64(0)},
		{"Marketing", int64(1)},
		{"Sales", int64(0)},
	}, plain(res.Rows))
}

//go:build cgo

package sandbox

import (
	"log/slog"

	_ "github.com/marcboeker/go-duckdb"
)

// DuckDBName is the name of the DuckDB reference substrate.
const DuckDBName = "duckdb"

const duckdbSchemaQuery = `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`

func init() {
	Register(DuckDBName, NewDuckDB)
}

// NewDuckDB is the Factory of an in-memory DuckDB database.
func NewDuckDB(logger *slog.Logger) Substrate {
	return NewSQLDB(SQLDBConfig{
		Name:        DuckDBName,
		Driver:      "duckdb",
		DSN:         "",
		SchemaQuery: duckdbSchemaQuery,
	}, logger)
}

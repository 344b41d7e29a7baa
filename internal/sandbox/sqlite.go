package sandbox

import (
	"log/slog"

	_ "modernc.org/sqlite"
)

// SQLiteName is the name of the SQLite reference substrate.
const SQLiteName = "sqlite"

const sqliteSchemaQuery = `SELECT m.name, p.name, p.type
FROM sqlite_master m JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

func init() {
	Register(SQLiteName, NewSQLite)
}

// NewSQLite is the Factory of a private in-memory SQLite database.
func NewSQLite(logger *slog.Logger) Substrate {
	return NewSQLDB(SQLDBConfig{
		Name:        SQLiteName,
		Driver:      "sqlite",
		DSN:         ":memory:",
		SchemaQuery: sqliteSchemaQuery,
	}, logger)
}

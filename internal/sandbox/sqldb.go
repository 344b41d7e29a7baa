package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soham407/sqlquest/internal/engine"
	"github.com/soham407/sqlquest/internal/storage"
)

// SQLDB is a substrate backed by a database/sql driver. It is used for the
// reference engines that native results are checked against.
//
// Statements are split lexically and run one at a time, each in its own
// transaction, so a failing statement leaves no partial changes while earlier
// ones stay committed. Unlike the native engine, a syntax error in a later
// statement is only found after the earlier statements have run.
type SQLDB struct {
	name        string
	driver      string
	dsn         string
	schemaQuery string
	logger      *slog.Logger

	// open overrides sql.Open; tests use it to inject sqlmock.
	open func() (*sql.DB, error)

	db *sql.DB
}

// SQLDBConfig describes a database/sql substrate.
type SQLDBConfig struct {
	Name   string
	Driver string
	DSN    string
	// SchemaQuery returns (table, column, type) rows ordered by table and
	// column position.
	SchemaQuery string
	// Open replaces sql.Open(Driver, DSN) when set.
	Open func() (*sql.DB, error)
}

// NewSQLDB builds a database/sql substrate.
func NewSQLDB(cfg SQLDBConfig, logger *slog.Logger) *SQLDB {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLDB{
		name:        cfg.Name,
		driver:      cfg.Driver,
		dsn:         cfg.DSN,
		schemaQuery: cfg.SchemaQuery,
		open:        cfg.Open,
		logger:      logger.With("substrate", cfg.Name),
	}
}

func (s *SQLDB) Name() string { return s.name }

func (s *SQLDB) Open(ctx context.Context, seed *storage.Seed) error {
	var (
		db  *sql.DB
		err error
	)
	if s.open != nil {
		db, err = s.open()
	} else {
		db, err = sql.Open(s.driver, s.dsn)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", s.driver, err)
	}
	// In-memory databases live as long as their connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping %s: %w", s.driver, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return err
	}
	for _, stmt := range seed.Statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			db.Close()
			return fmt.Errorf("seed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return fmt.Errorf("seed: %w", err)
	}
	s.db = db
	s.logger.Debug("opened", "driver", s.driver)
	return nil
}

func (s *SQLDB) Run(ctx context.Context, text string, limits Limits) (*ResultSet, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	stmts, err := engine.SplitStatements(text)
	if err != nil {
		return nil, err
	}
	var first *ResultSet
	for i, stmt := range stmts {
		if isTxControl(stmt) {
			continue
		}
		rs, err := s.runOne(ctx, stmt, limits.MaxRows)
		if err != nil {
			return nil, &QueryRuntimeError{Statement: i + 1, Err: err}
		}
		if rs != nil && first == nil {
			first = rs
		}
	}
	return first, nil
}

// runOne executes stmt in its own transaction. Only query statements produce
// a result set; DuckDB reports a Count column for DML, which is dropped.
func (s *SQLDB) runOne(ctx context.Context, stmt string, maxRows int) (*ResultSet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	var rs *ResultSet
	if returnsRows(stmt) {
		rs, err = queryRows(ctx, tx, stmt, maxRows)
	} else {
		_, err = tx.ExecContext(ctx, stmt)
	}
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rs, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRows(ctx context.Context, q queryer, stmt string, maxRows int) (*ResultSet, error) {
	rows, err := q.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{Cols: cols, Rows: [][]storage.Value{}}
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			return nil, ErrRowLimit
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]storage.Value, len(cols))
		for i, v := range raw {
			row[i] = fromDriver(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// fromDriver converts a scanned driver value. Types storage does not know,
// such as DuckDB decimals, fall back to their printed form.
func fromDriver(v any) storage.Value {
	if sv, err := storage.FromAny(v); err == nil {
		return sv
	}
	return storage.Text(fmt.Sprint(v))
}

func firstKeyword(stmt string) string {
	f := strings.FieldsFunc(stmt, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ';'
	})
	if len(f) == 0 {
		return ""
	}
	return strings.ToUpper(f[0])
}

func returnsRows(stmt string) bool {
	switch firstKeyword(stmt) {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN", "SHOW", "DESCRIBE", "TABLE":
		return true
	}
	return false
}

// isTxControl reports statements that would fight the per-statement
// transactions. They are accepted and ignored.
func isTxControl(stmt string) bool {
	switch firstKeyword(stmt) {
	case "BEGIN", "COMMIT", "ROLLBACK", "END":
		return true
	}
	return false
}

func (s *SQLDB) Schema(ctx context.Context) (Schema, error) {
	if s.db == nil {
		return Schema{}, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, s.schemaQuery)
	if err != nil {
		return Schema{}, fmt.Errorf("schema: %w", err)
	}
	var out Schema
	for rows.Next() {
		var table, col, typ string
		if err := rows.Scan(&table, &col, &typ); err != nil {
			rows.Close()
			return Schema{}, err
		}
		if n := len(out.Tables); n == 0 || out.Tables[n-1].Name != table {
			out.Tables = append(out.Tables, TableSchema{Name: table})
		}
		t := &out.Tables[len(out.Tables)-1]
		t.Columns = append(t.Columns, ColumnSchema{Name: col, Type: strings.ToUpper(typ)})
	}
	err = errors.Join(rows.Err(), rows.Close())
	if err != nil {
		return Schema{}, err
	}
	for i := range out.Tables {
		q := "SELECT COUNT(*) FROM " + storage.QuoteIdent(out.Tables[i].Name)
		if err := s.db.QueryRowContext(ctx, q).Scan(&out.Tables[i].RowCount); err != nil {
			return Schema{}, fmt.Errorf("schema: count %s: %w", out.Tables[i].Name, err)
		}
	}
	return sortSchema(out), nil
}

func (s *SQLDB) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

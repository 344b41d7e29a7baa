package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soham407/sqlquest/internal/storage"
	"github.com/soham407/sqlquest/internal/testutil"
)

func smallSeed() *storage.Seed {
	return &storage.Seed{Tables: []storage.SeedTable{{
		Name: "pets",
		Columns: []storage.Column{
			{Name: "id", Type: storage.IntType, DeclType: "INT"},
			{Name: "name", Type: storage.TextType, DeclType: "TEXT"},
		},
		Rows: [][]storage.Value{{storage.Int(1), storage.Text("Rex")}},
	}}}
}

// openMocked returns a SQLDB opened over sqlmock, with the seed expectations
// already consumed.
func openMocked(t *testing.T) (*SQLDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	s := NewSQLDB(SQLDBConfig{
		Name:        "mock",
		Driver:      "sqlmock",
		SchemaQuery: "SELECT table_name, column_name, data_type FROM columns",
		Open:        func() (*sql.DB, error) { return db, nil },
	}, testutil.NewTestLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE pets \(id INT, name TEXT\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO pets VALUES \(1, 'Rex'\)`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	require.NoError(t, s.Open(context.Background(), smallSeed()))
	return s, mock
}

func TestSQLDBConvertsDriverValues(t *testing.T) {
	s, mock := openMocked(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, weight FROM pets`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "weight"}).
			AddRow(int64(1), []byte("Rex"), 12.5).
			AddRow(int64(2), nil, "heavy"),
	)
	mock.ExpectCommit()

	rs, err := s.Run(context.Background(), "SELECT id, name, weight FROM pets", Limits{})
	require.NoError(t, err)
	require.NotNil(t, rs)
	assert.Equal(t, []string{"id", "name", "weight"}, rs.Cols)
	require.Len(t, rs.Rows, 2)
	assert.True(t, storage.Identical(storage.Int(1), rs.Rows[0][0]))
	assert.True(t, storage.Identical(storage.Text("Rex"), rs.Rows[0][1]))
	assert.True(t, storage.Identical(storage.Float(12.5), rs.Rows[0][2]))
	assert.True(t, rs.Rows[1][1].IsNull())
	assert.True(t, storage.Identical(storage.Text("heavy"), rs.Rows[1][2]))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDBSkipsTransactionControl(t *testing.T) {
	s, mock := openMocked(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pets VALUES \(2, 'Tom'\)`).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	rs, err := s.Run(context.Background(), "BEGIN TRANSACTION; INSERT INTO pets VALUES (2, 'Tom'); COMMIT;", Limits{})
	require.NoError(t, err)
	assert.Nil(t, rs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDBRollsBackFailedStatement(t *testing.T) {
	s, mock := openMocked(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM pets`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pets`).WillReturnError(errors.New("no such column: age"))
	mock.ExpectRollback()

	_, err := s.Run(context.Background(), "DELETE FROM pets; UPDATE pets SET age = 3; SELECT 1", Limits{})
	var rt *QueryRuntimeError
	require.ErrorAs(t, err, &rt)
	assert.Equal(t, 2, rt.Statement)
	assert.EqualError(t, err, "no such column: age")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDBRowLimit(t *testing.T) {
	s, mock := openMocked(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT`).WillReturnRows(
		sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2).AddRow(3),
	)
	mock.ExpectRollback()

	_, err := s.Run(context.Background(), "SELECT n FROM numbers", Limits{MaxRows: 2})
	assert.ErrorIs(t, err, ErrRowLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDBSchema(t *testing.T) {
	s, mock := openMocked(t)

	mock.ExpectQuery(`SELECT table_name, column_name, data_type FROM columns`).WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("pets", "id", "integer").
			AddRow("pets", "name", "text").
			AddRow("owners", "id", "integer"),
	)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pets`).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM owners`).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))

	schema, err := s.Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"owners", "pets"}, schema.Names())
	pets, ok := schema.Table("pets")
	require.True(t, ok)
	assert.Equal(t, 1, pets.RowCount)
	assert.Equal(t, []ColumnSchema{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}}, pets.Columns)

	mock.ExpectClose()
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = s.Run(context.Background(), "SELECT 1", Limits{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSQLDBOpenFailsOnBadSeed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewSQLDB(SQLDBConfig{Name: "mock", Open: func() (*sql.DB, error) { return db, nil }}, nil)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	mock.ExpectClose()

	err = s.Open(context.Background(), smallSeed())
	assert.EqualError(t, err, "seed: disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementKeywords(t *testing.T) {
	assert.True(t, returnsRows("  select 1"))
	assert.True(t, returnsRows("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.True(t, returnsRows("(SELECT 1)"))
	assert.False(t, returnsRows("INSERT INTO t VALUES (1)"))
	assert.True(t, isTxControl("begin\ntransaction"))
	assert.True(t, isTxControl("END"))
	assert.False(t, isTxControl("DELETE FROM t"))
}

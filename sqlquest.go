// Package sqlquest provides private, disposable SQL databases for practice.
//
// Each Sandbox holds a small company dataset (employees and departments)
// that is built in memory on first use and discarded with the sandbox.
// Queries never fail with a Go error: every outcome, including syntax
// errors and timeouts, is reported as a QueryResult that can be sent to a
// client as is.
//
// # Basic Usage
//
//	sb := sqlquest.NewSandbox()
//	defer sb.Close()
//
//	schema, err := sb.Initialize(ctx) // optional, Execute initializes too
//	res := sb.Execute(ctx, "SELECT first_name FROM employees WHERE salary > 72000")
//	if !res.Success {
//	    fmt.Println(res.Error)
//	}
//
// A batch may hold several statements separated by semicolons. The result
// carries the first result set any of them produced, or a single status
// row when none did.
//
// # Engines
//
// The built-in engine runs in process. The "sqlite" engine (and "duckdb"
// when built with cgo) executes the same SQL on a reference database:
//
//	f, err := sqlquest.Lookup("sqlite")
//	sb := sqlquest.NewSandbox(sqlquest.WithSubstrate(f))
//
// # Grading
//
// Compare results rather than query text:
//
//	if reason := sqlquest.Diff(got, want, false); reason != "" {
//	    fmt.Println("wrong:", reason)
//	}
package sqlquest

import (
	"github.com/soham407/sqlquest/internal/sandbox"
	"github.com/soham407/sqlquest/internal/storage"
)

// Sandbox owns one private dataset. It is safe for concurrent use.
type Sandbox = sandbox.Sandbox

// QueryResult is the outcome of Execute.
type QueryResult = sandbox.QueryResult

// Schema describes the tables of a sandbox.
type Schema = sandbox.Schema

// TableSchema describes one table.
type TableSchema = sandbox.TableSchema

// ColumnSchema describes one column.
type ColumnSchema = sandbox.ColumnSchema

// Limits bound a single Execute call.
type Limits = sandbox.Limits

// Option configures a Sandbox.
type Option = sandbox.Option

// Factory builds an execution engine.
type Factory = sandbox.Factory

// Value is a single SQL value: NULL, integer, real or text.
type Value = storage.Value

// Seed is a dataset to populate sandboxes with.
type Seed = storage.Seed

// SeedTable is one table of a Seed.
type SeedTable = storage.SeedTable

// Column describes a seed table column.
type Column = storage.Column

// Errors whose text appears in failed results.
var (
	ErrEmptyQuery     = sandbox.ErrEmptyQuery
	ErrStatementLimit = sandbox.ErrStatementLimit
	ErrRowLimit       = sandbox.ErrRowLimit
	ErrClosed         = sandbox.ErrClosed
)

// InitializationError reports a dataset that could not be built.
type InitializationError = sandbox.InitializationError

// StatusMessage is the cell of the status row.
const StatusMessage = sandbox.StatusMessage

// DefaultLimits apply when WithLimits is not given.
var DefaultLimits = sandbox.DefaultLimits

// NewSandbox returns a sandbox. Its dataset is built on first use.
func NewSandbox(opts ...Option) *Sandbox { return sandbox.New(opts...) }

// Options.
var (
	WithSubstrate = sandbox.WithSubstrate
	WithSeed      = sandbox.WithSeed
	WithLimits    = sandbox.WithLimits
	WithLogger    = sandbox.WithLogger
	WithClock     = sandbox.WithClock
)

// Lookup returns the engine registered under name.
func Lookup(name string) (Factory, error) { return sandbox.Lookup(name) }

// Engines lists the registered engine names.
func Engines() []string { return sandbox.Substrates() }

// DefaultSeed returns the employees and departments dataset.
func DefaultSeed() *Seed { return storage.DefaultSeed() }

// Diff describes the first difference between got and want, or returns ""
// when they match. Rows compare as a multiset unless ordered is set.
func Diff(got, want QueryResult, ordered bool) string { return sandbox.Diff(got, want, ordered) }

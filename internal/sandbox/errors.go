package sandbox

import (
	"errors"
	"fmt"

	"github.com/soham407/sqlquest/internal/engine"
)

var (
	// ErrEmptyQuery is reported for input with no statements in it.
	ErrEmptyQuery = errors.New("empty query: please write a SQL query before running")
	// ErrStatementLimit is reported when a batch has more statements than
	// Limits.MaxStatements allows.
	ErrStatementLimit = errors.New("statement limit exceeded")
	// ErrRowLimit is reported when a relation outgrows Limits.MaxRows.
	ErrRowLimit = engine.ErrRowLimit
	// ErrClosed is reported by a sandbox after Close.
	ErrClosed = errors.New("sandbox is closed")
)

type (
	// QuerySyntaxError reports SQL that could not be parsed. Nothing in the
	// batch ran.
	QuerySyntaxError = engine.SyntaxError
	// QueryRuntimeError reports a statement that parsed but failed. Earlier
	// statements of the batch stay applied.
	QueryRuntimeError = engine.RuntimeError
)

// InitializationError reports that the substrate could not be opened or
// seeded. The sandbox stays uninitialized and the next call retries.
type InitializationError struct {
	Substrate string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed (%s): %v", e.Substrate, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// UnknownSubstrateError is returned when a substrate name is not registered.
type UnknownSubstrateError struct {
	Name      string
	Available []string
}

func (e *UnknownSubstrateError) Error() string {
	return fmt.Sprintf("unknown engine %q (available: %v)", e.Name, e.Available)
}

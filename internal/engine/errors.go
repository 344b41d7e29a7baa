package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRowLimit is wrapped when an intermediate relation outgrows the
	// configured row budget.
	ErrRowLimit = errors.New("row limit exceeded")
	// ErrAggregateMisuse is wrapped when an aggregate appears where rows are
	// not grouped (WHERE, ON, GROUP BY, nested aggregates).
	ErrAggregateMisuse = errors.New("misuse of aggregate function")
)

// SyntaxError reports SQL text the parser could not understand.
type SyntaxError struct {
	Pos  int    // byte offset into the script
	Line int    // 1-based
	Col  int    // 1-based, in bytes
	Near string // offending token text, empty at end of input
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Near == "" {
		return fmt.Sprintf("syntax error at end of input: %s", e.Msg)
	}
	return fmt.Sprintf("syntax error near %q (line %d, column %d): %s", e.Near, e.Line, e.Col, e.Msg)
}

func newSyntaxError(src string, tok token, msg string) *SyntaxError {
	e := &SyntaxError{Pos: tok.Pos, Msg: msg}
	if tok.Typ != tEOF {
		e.Near = src[tok.Pos:max(tok.End, tok.Pos)]
	}
	prefix := src[:min(tok.Pos, len(src))]
	e.Line = strings.Count(prefix, "\n") + 1
	e.Col = tok.Pos - (strings.LastIndexByte(prefix, '\n') + 1) + 1
	return e
}

// RuntimeError reports a statement that parsed but failed while executing.
// Statement is the 1-based position of the failing statement in its script.
type RuntimeError struct {
	Statement int
	Err       error
}

func (e *RuntimeError) Error() string { return e.Err.Error() }
func (e *RuntimeError) Unwrap() error { return e.Err }


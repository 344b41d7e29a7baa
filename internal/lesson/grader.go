package lesson

import (
	"context"
	"fmt"
	"sync"

	"github.com/soham407/sqlquest/internal/sandbox"
)

// Verdict is the outcome of grading one submission.
type Verdict struct {
	Passed   bool                 `json:"passed"`
	Result   sandbox.QueryResult  `json:"result"`
	Expected *sandbox.QueryResult `json:"expected,omitempty"`
	// Reason explains a failed verdict.
	Reason string `json:"reason,omitempty"`
}

// Grader checks submissions by comparing results, never query text.
// Expected results computed from solutions are cached by solution text.
type Grader struct {
	opts []sandbox.Option

	mu    sync.Mutex
	cache map[string]sandbox.QueryResult
}

// NewGrader returns a grader that runs lesson solutions in fresh sandboxes
// built with opts.
func NewGrader(opts ...sandbox.Option) *Grader {
	return &Grader{opts: opts, cache: make(map[string]sandbox.QueryResult)}
}

// Check runs sql in sb and grades it against l. The submission runs in the
// caller's sandbox, so it sees (and may change) the caller's tables.
func (g *Grader) Check(ctx context.Context, sb *sandbox.Sandbox, l Lesson, sql string) Verdict {
	res := sb.Execute(ctx, sql)
	want, err := g.Expected(ctx, l)
	if err != nil {
		return Verdict{Result: res, Reason: err.Error()}
	}
	v := Verdict{Result: res, Expected: &want}
	if !res.Success {
		v.Reason = "query failed: " + res.Error
		return v
	}
	v.Reason = sandbox.Diff(res, want, l.Ordered)
	v.Passed = v.Reason == ""
	return v
}

// Expected returns the reference result of l.
func (g *Grader) Expected(ctx context.Context, l Lesson) (sandbox.QueryResult, error) {
	if l.Expected != nil {
		return sandbox.NewResult(l.Expected.Columns, l.Expected.Rows), nil
	}

	g.mu.Lock()
	want, ok := g.cache[l.Solution]
	g.mu.Unlock()
	if ok {
		return want, nil
	}

	sb := sandbox.New(g.opts...)
	defer sb.Close()
	want = sb.Execute(ctx, l.Solution)
	if !want.Success {
		return sandbox.QueryResult{}, fmt.Errorf("lesson %s: solution failed: %s", l.ID, want.Error)
	}
	want.ExecutionTime = 0

	g.mu.Lock()
	g.cache[l.Solution] = want
	g.mu.Unlock()
	return want, nil
}

// Package sandbox runs untrusted practice SQL against a private, seeded,
// in-memory dataset.
//
// A Sandbox builds its dataset lazily on first use, exactly once, and then
// executes batches of statements against it. Every outcome, failures
// included, is returned as a QueryResult; only Initialize reports errors
// directly. The dataset lives as long as the Sandbox and is never persisted.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/soham407/sqlquest/internal/engine"
	"github.com/soham407/sqlquest/internal/storage"
)

// Sandbox owns one dataset. Execute, Schema and Reset are serialized; a
// Sandbox is safe for concurrent use.
type Sandbox struct {
	id      string
	factory Factory
	seed    *storage.Seed
	limits  Limits
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes calls into the substrate.
	mu sync.Mutex

	initGroup singleflight.Group
	stateMu   sync.RWMutex
	sub       Substrate // published once seeded
	closed    bool
}

// New returns an uninitialized sandbox. Without options it uses the native
// engine, the default seed and DefaultLimits.
func New(opts ...Option) *Sandbox {
	sb := &Sandbox{
		id:      uuid.NewString(),
		factory: NewNative,
		seed:    storage.DefaultSeed(),
		limits:  DefaultLimits,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(sb)
	}
	sb.logger = sb.logger.With("sandbox", sb.id)
	return sb
}

// ID returns the sandbox's unique id.
func (sb *Sandbox) ID() string { return sb.id }

// Limits returns the per-call limits.
func (sb *Sandbox) Limits() Limits { return sb.limits }

// Initialized reports whether the dataset has been built.
func (sb *Sandbox) Initialized() bool { return sb.current() != nil }

func (sb *Sandbox) current() Substrate {
	sb.stateMu.RLock()
	defer sb.stateMu.RUnlock()
	return sb.sub
}

// Initialize builds the dataset if it does not exist yet and describes it.
// Concurrent callers share a single initialization. On failure the sandbox
// stays uninitialized and the error is an *InitializationError.
func (sb *Sandbox) Initialize(ctx context.Context) (Schema, error) {
	if _, err := sb.ensureInit(ctx); err != nil {
		return Schema{}, err
	}
	return sb.Schema(ctx)
}

func (sb *Sandbox) ensureInit(ctx context.Context) (Substrate, error) {
	if sub := sb.current(); sub != nil {
		return sub, nil
	}
	v, err, _ := sb.initGroup.Do("init", func() (any, error) {
		sb.stateMu.RLock()
		sub, closed := sb.sub, sb.closed
		sb.stateMu.RUnlock()
		if closed {
			return nil, ErrClosed
		}
		if sub != nil {
			return sub, nil
		}
		start := time.Now()
		sub = sb.factory(sb.logger)
		if err := sub.Open(ctx, sb.seed); err != nil {
			sub.Close()
			sb.logger.Warn("initialization failed", "substrate", sub.Name(), "error", err)
			return nil, &InitializationError{Substrate: sub.Name(), Err: err}
		}

		sb.stateMu.Lock()
		defer sb.stateMu.Unlock()
		if sb.closed {
			sub.Close()
			return nil, ErrClosed
		}
		sb.sub = sub
		sb.logger.Info("initialized",
			"substrate", sub.Name(),
			"tables", len(sb.seed.Tables),
			"duration", time.Since(start))
		return sub, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Substrate), nil
}

// Execute runs a batch of statements and reports its outcome. The result
// carries the first result set any statement produced, or the status shape
// if none did. Failures set Success to false and never panic.
func (sb *Sandbox) Execute(ctx context.Context, sqlText string) (res QueryResult) {
	start := sb.now()
	defer func() {
		if r := recover(); r != nil {
			sb.logger.Error("panic during execution", "panic", r, "stack", string(debug.Stack()))
			res = failedResult(fmt.Sprintf("internal error: %v", r))
		}
		res.ExecutionTime = sb.now().Sub(start).Seconds()
		sb.logger.Debug("query",
			"success", res.Success,
			"rows", res.RowCount,
			"seconds", res.ExecutionTime)
	}()

	rs, err := sb.run(ctx, sqlText)
	if err != nil {
		return failedResult(sb.describe(err))
	}
	if rs == nil {
		return statusResult()
	}
	return rowsResult(rs.Cols, rs.Rows)
}

func (sb *Sandbox) run(ctx context.Context, sqlText string) (*ResultSet, error) {
	stmts, err := engine.SplitStatements(sqlText)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, ErrEmptyQuery
	}
	if limit := sb.limits.MaxStatements; limit > 0 && len(stmts) > limit {
		return nil, fmt.Errorf("%w: %d statements, at most %d allowed", ErrStatementLimit, len(stmts), limit)
	}
	if sb.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sb.limits.Timeout)
		defer cancel()
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	sub, err := sb.ensureInit(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := sub.Run(ctx, sqlText, sb.limits)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		// Drivers report interrupted queries in their own words.
		return nil, fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return rs, err
}

func (sb *Sandbox) describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) && sb.limits.Timeout > 0 {
		return fmt.Sprintf("query timed out after %s", sb.limits.Timeout)
	}
	return err.Error()
}

// Schema describes the current tables, initializing the dataset if needed.
func (sb *Sandbox) Schema(ctx context.Context) (Schema, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sub, err := sb.ensureInit(ctx)
	if err != nil {
		return Schema{}, err
	}
	return sub.Schema(ctx)
}

// Reset discards the dataset. The next call builds a fresh one from the seed.
func (sb *Sandbox) Reset(context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.stateMu.Lock()
	sub := sb.sub
	sb.sub = nil
	closed := sb.closed
	sb.stateMu.Unlock()
	if closed {
		return ErrClosed
	}
	if sub == nil {
		return nil
	}
	sb.logger.Info("reset")
	return sub.Close()
}

// Close releases the dataset. Later calls fail with ErrClosed.
func (sb *Sandbox) Close() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.stateMu.Lock()
	sub := sb.sub
	sb.sub = nil
	sb.closed = true
	sb.stateMu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

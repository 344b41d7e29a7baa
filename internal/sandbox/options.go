package sandbox

import (
	"log/slog"
	"time"

	"github.com/soham407/sqlquest/internal/storage"
)

// Limits bound a single Execute call. A zero field means unlimited.
type Limits struct {
	Timeout       time.Duration `json:"timeout"`
	MaxStatements int           `json:"maxStatements"`
	MaxRows       int           `json:"maxRows"`
}

// DefaultLimits are the limits used when none are configured.
var DefaultLimits = Limits{
	Timeout:       5 * time.Second,
	MaxStatements: 64,
	MaxRows:       100_000,
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithSubstrate selects the execution substrate. The default is the native
// engine.
func WithSubstrate(f Factory) Option {
	return func(sb *Sandbox) {
		if f != nil {
			sb.factory = f
		}
	}
}

// WithSeed replaces the practice dataset.
func WithSeed(seed *storage.Seed) Option {
	return func(sb *Sandbox) {
		if seed != nil {
			sb.seed = seed
		}
	}
}

// WithLimits sets the per-call limits.
func WithLimits(l Limits) Option {
	return func(sb *Sandbox) { sb.limits = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sb *Sandbox) {
		if l != nil {
			sb.logger = l
		}
	}
}

// WithClock replaces time.Now for execution timing.
func WithClock(now func() time.Time) Option {
	return func(sb *Sandbox) {
		if now != nil {
			sb.now = now
		}
	}
}

package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field specs, an optional leading seconds
// field and descriptors such as "@every 1m".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper periodically drops idle sessions from a Registry.
type Sweeper struct {
	registry *Registry
	idle     time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewSweeper schedules sweeps of sessions idle for longer than idle on the
// cron spec. Sweeps never overlap.
func NewSweeper(registry *Registry, spec string, idle time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	cl := cronLogger{logger}
	s := &Sweeper{
		registry: registry,
		idle:     idle,
		logger:   logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.Sweep))
	return s, nil
}

// Sweep runs one sweep now.
func (s *Sweeper) Sweep() {
	if n := s.registry.Sweep(s.idle); n > 0 {
		s.logger.Info("idle sessions dropped", "dropped", n, "remaining", s.registry.Len())
	}
}

// Start begins scheduling sweeps.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

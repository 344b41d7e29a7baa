package server

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soham407/sqlquest/internal/sandbox"
)

// NewSessionID returns a fresh random session id.
func NewSessionID() string { return uuid.NewString() }

// ValidSessionID reports whether s is a well-formed session id. Ids from
// cookies and RPC requests are checked so clients cannot pick arbitrary keys.
func ValidSessionID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

type entry struct {
	sb       *sandbox.Sandbox
	lastUsed time.Time
}

// Registry owns one sandbox per session. Sandboxes are created on first use
// and closed when dropped or swept.
type Registry struct {
	opts   []sandbox.Option
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry returns an empty registry that builds sandboxes with opts.
func NewRegistry(logger *slog.Logger, opts ...sandbox.Option) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		opts:     opts,
		now:      time.Now,
		logger:   logger,
		sessions: make(map[string]*entry),
	}
}

// Get returns the session's sandbox, creating it if needed, and marks the
// session as used.
func (r *Registry) Get(session string) *sandbox.Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[session]
	if !ok {
		opts := append(slices.Clip(r.opts), sandbox.WithLogger(r.logger.With("session", session)))
		e = &entry{sb: sandbox.New(opts...)}
		r.sessions[session] = e
		r.logger.Debug("session created", "session", session, "sessions", len(r.sessions))
	}
	e.lastUsed = r.now()
	return e.sb
}

// Drop closes and forgets a session. It reports whether the session existed.
func (r *Registry) Drop(session string) bool {
	r.mu.Lock()
	e, ok := r.sessions[session]
	delete(r.sessions, session)
	r.mu.Unlock()
	if ok {
		e.sb.Close()
	}
	return ok
}

// Sweep drops sessions unused for longer than idle and returns how many
// were dropped.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	var stale []*entry
	r.mu.Lock()
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, e := range stale {
		e.sb.Close()
	}
	return len(stale)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions lists the live session ids, sorted.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close drops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range sessions {
		e.sb.Close()
	}
}

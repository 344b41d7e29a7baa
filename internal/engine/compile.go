package engine

// This file holds the parsed-script cache:
//   - What: A bounded in-memory map from exact SQL text to its parsed Script.
//   - How: Lookups take a read lock; misses parse outside the lock and insert
//     under the write lock, evicting the oldest entry (FIFO) when full. Parse
//     failures are not cached.
//   - Why: Lesson pages resubmit the same queries over and over, and parsed
//     ASTs are immutable during execution, so sharing them is free.

import (
	"context"
	"sync"
	"time"

	"github.com/soham407/sqlquest/internal/storage"
)

// CompiledScript is a parsed and cached SQL script.
type CompiledScript struct {
	SQL      string
	Script   *Script
	ParsedAt time.Time
}

// Run executes the cached script against db.
func (cs *CompiledScript) Run(ctx context.Context, db *storage.DB, opts Options) (*ResultSet, error) {
	return ExecScript(ctx, db, cs.Script, opts)
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
}

// QueryCache manages compiled scripts.
type QueryCache struct {
	mu      sync.RWMutex
	queries map[string]*CompiledScript
	order   []string
	maxSize int
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewQueryCache creates a cache holding at most maxSize scripts.
func NewQueryCache(maxSize int) *QueryCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &QueryCache{
		queries: make(map[string]*CompiledScript),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Compile returns the cached parse of sql, parsing it on a miss.
func (qc *QueryCache) Compile(sql string) (*CompiledScript, error) {
	qc.mu.RLock()
	cached, ok := qc.queries[sql]
	qc.mu.RUnlock()
	if ok {
		qc.mu.Lock()
		qc.hits++
		qc.mu.Unlock()
		return cached, nil
	}

	sc, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	compiled := &CompiledScript{SQL: sql, Script: sc, ParsedAt: qc.now()}

	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.misses++
	if existing, ok := qc.queries[sql]; ok {
		return existing, nil
	}
	for len(qc.queries) >= qc.maxSize && len(qc.order) > 0 {
		delete(qc.queries, qc.order[0])
		qc.order = qc.order[1:]
	}
	qc.queries[sql] = compiled
	qc.order = append(qc.order, sql)
	return compiled, nil
}

// Stats returns cache statistics.
func (qc *QueryCache) Stats() CacheStats {
	qc.mu.RLock()
	defer qc.mu.RUnlock()
	return CacheStats{Size: len(qc.queries), MaxSize: qc.maxSize, Hits: qc.hits, Misses: qc.misses}
}

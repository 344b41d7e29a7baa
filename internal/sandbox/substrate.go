package sandbox

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/soham407/sqlquest/internal/engine"
	"github.com/soham407/sqlquest/internal/storage"
)

// ResultSet is the tabular output of one statement.
type ResultSet = engine.ResultSet

// Substrate is the database a sandbox executes against. Implementations are
// used by one goroutine at a time.
type Substrate interface {
	// Name identifies the substrate, e.g. "native".
	Name() string
	// Open creates the dataset described by seed.
	Open(ctx context.Context, seed *storage.Seed) error
	// Run executes a batch and returns the first result set it produced, or
	// nil if no statement produced one.
	Run(ctx context.Context, sql string, limits Limits) (*ResultSet, error)
	// Schema describes the current tables.
	Schema(ctx context.Context) (Schema, error)
	// Close releases the dataset.
	Close() error
}

// Factory builds an unopened substrate.
type Factory func(logger *slog.Logger) Substrate

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a substrate available by name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownSubstrateError{Name: name, Available: Substrates()}
	}
	return f, nil
}

// Substrates lists the registered substrate names (sorted).
func Substrates() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema is the introspection view of a sandbox's tables, sorted by name.
type Schema struct {
	Tables []TableSchema `json:"tables"`
}

// TableSchema describes one table.
type TableSchema struct {
	Name     string         `json:"name"`
	Columns  []ColumnSchema `json:"columns"`
	RowCount int            `json:"rowCount"`
}

// ColumnSchema describes one column by name and declared type.
type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table finds a table by name, ignoring case.
func (s Schema) Table(name string) (TableSchema, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TableSchema{}, false
}

// Names lists the table names.
func (s Schema) Names() []string {
	out := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		out[i] = t.Name
	}
	return out
}

func sortSchema(s Schema) Schema {
	sort.Slice(s.Tables, func(i, j int) bool {
		return strings.ToLower(s.Tables[i].Name) < strings.ToLower(s.Tables[j].Name)
	})
	return s
}

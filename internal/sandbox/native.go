package sandbox

import (
	"context"
	"log/slog"

	"github.com/soham407/sqlquest/internal/engine"
	"github.com/soham407/sqlquest/internal/storage"
)

// NativeName is the name of the built-in substrate.
const NativeName = "native"

// scriptCache is shared by every native substrate in the process. Parsed
// scripts are immutable, and lesson pages resubmit the same text a lot.
var scriptCache = engine.NewQueryCache(512)

func init() {
	Register(NativeName, NewNative)
}

// Native runs SQL on the in-process engine over in-memory storage.
type Native struct {
	logger *slog.Logger
	db     *storage.DB
}

// NewNative is the Factory of the native substrate.
func NewNative(logger *slog.Logger) Substrate {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Native{logger: logger}
}

func (n *Native) Name() string { return NativeName }

func (n *Native) Open(_ context.Context, seed *storage.Seed) error {
	db := storage.NewDB()
	if err := seed.Load(db); err != nil {
		return err
	}
	n.db = db
	return nil
}

func (n *Native) Run(ctx context.Context, sql string, limits Limits) (*ResultSet, error) {
	cs, err := scriptCache.Compile(sql)
	if err != nil {
		return nil, err
	}
	return cs.Run(ctx, n.db, engine.Options{MaxRows: limits.MaxRows})
}

func (n *Native) Schema(context.Context) (Schema, error) {
	var s Schema
	for _, t := range n.db.ListTables() {
		ts := TableSchema{Name: t.Name, RowCount: len(t.Rows)}
		for _, c := range t.Cols {
			ts.Columns = append(ts.Columns, ColumnSchema{Name: c.Name, Type: c.Decl()})
		}
		s.Tables = append(s.Tables, ts)
	}
	return sortSchema(s), nil
}

func (n *Native) Close() error {
	n.db = nil
	return nil
}

// CacheStats reports the shared parse cache counters.
func CacheStats() engine.CacheStats { return scriptCache.Stats() }

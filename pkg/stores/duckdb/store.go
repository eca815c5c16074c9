// Package duckdb provides the DuckDB client for columnar analytical
// stores.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/flowstack-labs/flowsql/pkg/core"
	"github.com/flowstack-labs/flowsql/pkg/store"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Store implements the store.Store interface for DuckDB.
type Store struct {
	store.BaseSQLStore
}

// New creates a new DuckDB store instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{BaseSQLStore: store.BaseSQLStore{Logger: logger}}
}

// Connect opens the database file (":memory:" when no path is set) and
// applies configured session settings in deterministic order.
func (s *Store) Connect(ctx context.Context, cfg store.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	keys := make([]string, 0, len(cfg.Settings))
	for k := range cfg.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET %s = '%s'", k, cfg.Settings[k])); err != nil {
			_ = db.Close()
			return fmt.Errorf("applying duckdb setting %s: %w", k, err)
		}
	}

	s.DB = db
	s.Cfg = cfg
	return nil
}

// Query enforces the memory ceiling server-side before delegating to
// the shared timeout and row-cap machinery.
func (s *Store) Query(ctx context.Context, q store.Query) (*core.ResultSet, error) {
	if q.Profile.MemoryCeiling > 0 {
		limit := fmt.Sprintf("SET memory_limit = '%dMiB'", mib(q.Profile.MemoryCeiling))
		if _, err := s.DB.ExecContext(ctx, limit); err != nil {
			return nil, fmt.Errorf("applying duckdb memory limit: %w", err)
		}
	}
	return s.BaseSQLStore.Query(ctx, q)
}

func mib(bytes int64) int64 {
	const mi = 1 << 20
	n := (bytes + mi - 1) / mi
	if n < 1 {
		n = 1
	}
	return n
}

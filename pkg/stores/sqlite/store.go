// Package sqlite provides an embedded SQLite client for dev and test
// metadata stores.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/flowstack-labs/flowsql/pkg/store"
	_ "modernc.org/sqlite" // cgo-free sqlite driver
)

// Store implements the store.Store interface for SQLite.
type Store struct {
	store.BaseSQLStore
}

// New creates a new SQLite store instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{BaseSQLStore: store.BaseSQLStore{Logger: logger}}
}

// Connect opens the database file (":memory:" when no path is set).
func (s *Store) Connect(ctx context.Context, cfg store.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	s.DB = db
	s.Cfg = cfg
	return nil
}

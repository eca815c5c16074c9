// Package duckdb provides the DuckDB client for columnar analytical
// stores.
//
// This file registers the DuckDB store with the store registry.
// Import this package with a blank identifier to register it:
//
//	import _ "github.com/flowstack-labs/flowsql/pkg/stores/duckdb"
package duckdb

import (
	"log/slog"

	"github.com/flowstack-labs/flowsql/pkg/store"
)

func init() {
	store.Register("duckdb", func(l *slog.Logger) store.Store { return New(l) })
}

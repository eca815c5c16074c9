// Package postgres provides the PostgreSQL-wire client used for both
// streaming SQL stores and relational metadata stores.
//
// This file registers the PostgreSQL store with the store registry.
// Import this package with a blank identifier to register it:
//
//	import _ "github.com/flowstack-labs/flowsql/pkg/stores/postgres"
package postgres

import (
	"log/slog"

	"github.com/flowstack-labs/flowsql/pkg/store"
)

func init() {
	store.Register("postgres", func(l *slog.Logger) store.Store { return New(l) })
}

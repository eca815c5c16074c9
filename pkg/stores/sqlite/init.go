// Package sqlite provides an embedded SQLite client for dev and test
// metadata stores.
//
// This file registers the SQLite store with the store registry.
// Import this package with a blank identifier to register it:
//
//	import _ "github.com/flowstack-labs/flowsql/pkg/stores/sqlite"
package sqlite

import (
	"log/slog"

	"github.com/flowstack-labs/flowsql/pkg/store"
)

func init() {
	store.Register("sqlite", func(l *slog.Logger) store.Store { return New(l) })
}

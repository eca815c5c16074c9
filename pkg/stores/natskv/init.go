// Package natskv provides the NATS JetStream key-value client for
// low-latency point lookups.
//
// This file registers the NATS KV store with the store registry.
// Import this package with a blank identifier to register it:
//
//	import _ "github.com/flowstack-labs/flowsql/pkg/stores/natskv"
package natskv

import (
	"log/slog"

	"github.com/flowstack-labs/flowsql/pkg/store"
)

func init() {
	store.Register("natskv", func(l *slog.Logger) store.Store { return New(l) })
}

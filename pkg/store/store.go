// Package store defines the contract all backing-store clients
// implement and the registry they register into.
//
// Concrete store implementations live in pkg/stores/ subdirectories and
// register themselves via init(); import them with a blank identifier
// to make them available:
//
//	import _ "github.com/flowstack-labs/flowsql/pkg/stores/duckdb"
package store

import (
	"context"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// Config describes one configured backing store.
type Config struct {
	// Name is the store id compiled queries are routed by.
	Name string `koanf:"name" json:"name"`

	// Driver selects the registered store implementation
	// (duckdb, postgres, sqlite, natskv).
	Driver string `koanf:"driver" json:"driver"`

	// Family the store serves. Used to pick placeholder style and
	// safety enforcement strategy.
	Family core.StoreFamily `koanf:"family" json:"family"`

	// Connection details. DSN wins when set; otherwise host/port/user
	// style fields are assembled driver-side. Path covers embedded
	// stores (duckdb, sqlite).
	DSN      string `koanf:"dsn" json:"dsn,omitempty"`
	Path     string `koanf:"path" json:"path,omitempty"`
	Host     string `koanf:"host" json:"host,omitempty"`
	Port     int    `koanf:"port" json:"port,omitempty"`
	User     string `koanf:"user" json:"user,omitempty"`
	Password string `koanf:"password" json:"password,omitempty"`
	Database string `koanf:"database" json:"database,omitempty"`

	// Settings carries driver-specific session settings applied at
	// connect time (duckdb memory_limit, pg application_name).
	Settings map[string]string `koanf:"settings" json:"settings,omitempty"`
}

// Query is one execution request against a store.
type Query struct {
	SQL     string
	Params  []any
	Profile core.SafetyProfile
}

// Store is the client contract for a backing store.
type Store interface {
	// Connect establishes the connection described by cfg.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the connection.
	Close() error

	// Ping probes store health. Used by the live service's health
	// check loop as well as startup verification.
	Ping(ctx context.Context) error

	// Query executes a parameterized statement under the given safety
	// profile and materializes the result.
	Query(ctx context.Context, q Query) (*core.ResultSet, error)
}

// KeyValueLookup is implemented by stores that serve point lookups
// instead of SQL (the keyvalue family).
type KeyValueLookup interface {
	Lookup(ctx context.Context, bucket, key string) ([]byte, error)
}

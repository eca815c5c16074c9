// Package catalog maintains the per-tenant view of table schemas across
// all backing stores. It pulls metadata from external catalog sources,
// caches it in an atomically swapped snapshot, and serves lookups to
// schema propagation and compilation without ever blocking on catalog
// I/O.
package catalog

import (
	"context"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// Source lists tables from one backing store's catalog. Implementations
// live behind store adapters; the registry only consumes this contract.
type Source interface {
	// Name identifies the source for logging.
	Name() string

	// ListTables returns every table the source exposes to the tenant.
	ListTables(ctx context.Context, tenant string) ([]core.TableSchema, error)
}

// EntitlementSource resolves a tenant's table allow-list and entitled
// symbol set. Owned by the external auth layer.
type EntitlementSource interface {
	// AllowedTables returns qualified table names the tenant may see.
	// A nil map means unrestricted.
	AllowedTables(ctx context.Context, tenant string) (map[string]bool, error)

	// AllowedSymbols returns the tenant's entitled instrument symbols,
	// used to scope shared market tables.
	AllowedSymbols(ctx context.Context, tenant string) ([]string, error)
}

// StaticEntitlements is a fixed in-memory EntitlementSource, used for
// single-tenant deployments and tests.
type StaticEntitlements struct {
	Tables  map[string]map[string]bool // tenant -> allow-list
	Symbols map[string][]string        // tenant -> symbols
}

// AllowedTables implements EntitlementSource.
func (s StaticEntitlements) AllowedTables(_ context.Context, tenant string) (map[string]bool, error) {
	if s.Tables == nil {
		return nil, nil
	}
	return s.Tables[tenant], nil
}

// AllowedSymbols implements EntitlementSource.
func (s StaticEntitlements) AllowedSymbols(_ context.Context, tenant string) ([]string, error) {
	if s.Symbols == nil {
		return nil, nil
	}
	return s.Symbols[tenant], nil
}

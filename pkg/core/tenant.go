package core

import "sort"

// TenantContext carries the caller's tenant identity and entitlements
// through compilation and execution. Supplied by the external auth
// layer; the engine only consumes it.
type TenantContext struct {
	TenantID string `json:"tenant_id"`

	// AllowedTables is the tenant's catalog allow-list, keyed by
	// qualified table name. Nil means no entitlement filtering (used
	// by internal callers and tests).
	AllowedTables map[string]bool `json:"allowed_tables,omitempty"`

	// AllowedSymbols is the entitled symbol set used to scope shared
	// market tables that carry no tenant column.
	AllowedSymbols []string `json:"allowed_symbols,omitempty"`
}

// CanSee reports whether the tenant may reference the qualified table.
func (t TenantContext) CanSee(qualified string) bool {
	if t.AllowedTables == nil {
		return true
	}
	return t.AllowedTables[qualified]
}

// SortedSymbols returns the entitled symbols in ascending order. The
// compiler binds them in this order so identical entitlements always
// produce identical parameter lists.
func (t TenantContext) SortedSymbols() []string {
	out := make([]string, len(t.AllowedSymbols))
	copy(out, t.AllowedSymbols)
	sort.Strings(out)
	return out
}

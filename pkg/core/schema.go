package core

import (
	"fmt"
	"strings"
)

// DType is the logical column type used across all backing stores.
type DType string

// Supported logical column types.
const (
	TypeString   DType = "string"
	TypeInt64    DType = "int64"
	TypeFloat64  DType = "float64"
	TypeBool     DType = "bool"
	TypeDatetime DType = "datetime"
)

// Valid reports whether d is one of the supported logical types.
func (d DType) Valid() bool {
	switch d {
	case TypeString, TypeInt64, TypeFloat64, TypeBool, TypeDatetime:
		return true
	}
	return false
}

// ParseDType maps a store-level type name to a logical type.
// Unrecognized names map to TypeString so catalog refreshes never fail
// on an exotic column type.
func ParseDType(storeType string) DType {
	switch strings.ToLower(storeType) {
	case "string", "text", "varchar", "char", "uuid":
		return TypeString
	case "int", "int4", "int8", "int32", "int64", "bigint", "integer", "smallint", "ubigint":
		return TypeInt64
	case "float", "float4", "float8", "float64", "double", "real", "decimal", "numeric":
		return TypeFloat64
	case "bool", "boolean":
		return TypeBool
	case "datetime", "timestamp", "timestamptz", "date", "time":
		return TypeDatetime
	default:
		return TypeString
	}
}

// Column describes one output column of a node or table.
// Immutable value type; schemas are rebuilt, never mutated in place.
type Column struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
}

func (c Column) String() string {
	return fmt.Sprintf("%s:%s", c.Name, c.DType)
}

// Freshness classifies how recent a table's data is, which determines
// the backing store and the latency target queries against it get.
type Freshness string

// Freshness classes, hottest first.
const (
	FreshnessHot  Freshness = "hot"
	FreshnessWarm Freshness = "warm"
	FreshnessCool Freshness = "cool"
	FreshnessCold Freshness = "cold"
)

// StoreFamily identifies a class of backing store the router holds a
// client for. Routing is purely a function of this value.
type StoreFamily string

// Backing store families.
const (
	StoreColumnar  StoreFamily = "columnar"  // analytical OLAP store
	StoreStreaming StoreFamily = "streaming" // streaming SQL store
	StoreKeyValue  StoreFamily = "keyvalue"  // low-latency point lookups
	StoreMetadata  StoreFamily = "metadata"  // relational metadata store
)

// Placeholder renders the bound-parameter placeholder for position i
// (1-based) in the family's SQL dialect.
func (f StoreFamily) Placeholder(i int) string {
	switch f {
	case StoreStreaming, StoreMetadata:
		return fmt.Sprintf("$%d", i)
	default:
		return "?"
	}
}

// TableSchema is the registry's view of one physical table or view.
// Rebuilt wholesale on each refresh cycle.
type TableSchema struct {
	StoreID   string      `json:"store_id"`
	Family    StoreFamily `json:"family"`
	Database  string      `json:"database"`
	Table     string      `json:"table"`
	Columns   []Column    `json:"columns"`
	Freshness Freshness   `json:"freshness"`

	// TenantColumn names the tenant-id column on tenant-owned tables.
	// Empty on shared tables.
	TenantColumn string `json:"tenant_column,omitempty"`

	// SymbolColumn names the instrument-symbol column on shared
	// market-style tables that have no tenant column. Tenant isolation
	// on such tables is an IN predicate over the tenant's entitled
	// symbols.
	SymbolColumn string `json:"symbol_column,omitempty"`
}

// QualifiedName returns database.table, or just the table name when no
// database is set.
func (t TableSchema) QualifiedName() string {
	if t.Database == "" {
		return t.Table
	}
	return t.Database + "." + t.Table
}

// ColumnNamed returns the named column and whether it exists.
func (t TableSchema) ColumnNamed(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

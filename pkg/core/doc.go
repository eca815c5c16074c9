// Package core defines the shared value types of the FlowSQL engine:
// column and table schemas, workflow graphs, compiled queries, tenant
// context, and the typed error kinds every component reports.
//
// Types in this package are plain values with no behavior beyond
// validation and canonical encoding. Engine components (propagation,
// compilation, routing, caching, fan-out) live under internal/ and
// depend on core, never the other way around.
package core

// Package engine wires the catalog, compiler, router, preview cache,
// and live delivery into the four operations the API surface exposes:
// validation, compilation, preview execution, and live subscriptions.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowstack-labs/flowsql/internal/catalog"
	"github.com/flowstack-labs/flowsql/internal/compile"
	"github.com/flowstack-labs/flowsql/internal/live"
	"github.com/flowstack-labs/flowsql/internal/preview"
	"github.com/flowstack-labs/flowsql/internal/propagate"
	"github.com/flowstack-labs/flowsql/internal/router"
	"github.com/flowstack-labs/flowsql/pkg/core"
)

// Engine coordinates one deployment's query-serving services. All
// methods are safe for concurrent use.
type Engine struct {
	registry *catalog.Registry
	compiler *compile.Compiler
	router   *router.Router
	previews *preview.Service
	live     *live.Service
	logger   *slog.Logger
}

// Config holds engine wiring.
type Config struct {
	// Registry resolves table schemas per tenant. Required.
	Registry *catalog.Registry
	// Router executes compiled queries against backing stores. Required.
	Router *router.Router
	// Previews caches preview results. Nil executes every preview
	// directly against the router.
	Previews *preview.Service
	// Live fans out row batches to subscribers. Nil disables
	// SubscribeLive.
	Live *live.Service
	// Compile tunes pagination and row-cap limits.
	Compile compile.Options
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// New creates an engine from already-constructed services.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: registry is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("engine: router is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		registry: cfg.Registry,
		compiler: compile.New(cfg.Registry, cfg.Compile),
		router:   cfg.Router,
		previews: cfg.Previews,
		live:     cfg.Live,
		logger:   logger,
	}, nil
}

// PropagateAndValidate runs schema propagation over the whole canvas
// and reports the first structural or schema error. The returned
// result carries per-node output schemas for the UI to render column
// pickers from.
func (e *Engine) PropagateAndValidate(graph core.WorkflowGraph, tenant core.TenantContext) *propagate.Result {
	e.ensureTenant(context.Background(), tenant)
	lookup := func(database, table string) ([]core.Column, error) {
		return e.registry.GetColumns(tenant.TenantID, database, table)
	}
	return propagate.Propagate(graph, lookup)
}

// ensureTenant loads the tenant's catalog view on first touch. Failure
// is left to surface as unknown-table errors downstream.
func (e *Engine) ensureTenant(ctx context.Context, tenant core.TenantContext) {
	if err := e.registry.EnsureTenant(ctx, tenant.TenantID); err != nil {
		e.logger.Warn("catalog load failed", "tenant", tenant.TenantID, "error", err)
	}
}

// Compile lowers the subgraph feeding target into one parameterized
// SQL statement scoped to the tenant.
func (e *Engine) Compile(graph core.WorkflowGraph, target string, tenant core.TenantContext, page core.Pagination) (*core.CompiledQuery, error) {
	e.ensureTenant(context.Background(), tenant)
	return e.compiler.Compile(graph, target, tenant, page)
}

// Execute runs a compiled query through the router under the safety
// profile matching its freshness.
func (e *Engine) Execute(ctx context.Context, q *core.CompiledQuery) (*core.ResultSet, error) {
	return e.router.Execute(ctx, q, e.router.ProfileFor(q.Freshness))
}

// Preview compiles and executes the target node's query, serving
// repeated identical requests from the result cache. Cache failures
// degrade to direct execution and never fail the request.
func (e *Engine) Preview(ctx context.Context, graph core.WorkflowGraph, target string, tenant core.TenantContext, page core.Pagination) (*core.ResultSet, error) {
	e.ensureTenant(ctx, tenant)
	q, err := e.compiler.Compile(graph, target, tenant, page)
	if err != nil {
		return nil, err
	}
	compute := func(ctx context.Context) (*core.ResultSet, error) {
		return e.Execute(ctx, q)
	}
	if e.previews == nil {
		return compute(ctx)
	}
	key, err := preview.Key(tenant, graph, target, e.registry.SchemaVersion(), page)
	if err != nil {
		e.logger.Warn("preview key derivation failed, executing directly", "error", err)
		return compute(ctx)
	}
	return e.previews.GetOrCompute(ctx, key, compute)
}

// SubscribeLive attaches a subscriber to the live feed for the target
// node's query. The view is identified by the content hash of the
// compiled subgraph, so identical views across clients share one feed.
// The poll fallback re-runs the query through the router under the
// same safety profile as a preview.
func (e *Engine) SubscribeLive(graph core.WorkflowGraph, target string, tenant core.TenantContext) (*live.Subscription, error) {
	if e.live == nil {
		return nil, fmt.Errorf("engine: live delivery is not configured")
	}
	e.ensureTenant(context.Background(), tenant)
	q, err := e.compiler.Compile(graph, target, tenant, core.Pagination{})
	if err != nil {
		return nil, err
	}
	hash, err := preview.Key(tenant, graph, target, e.registry.SchemaVersion(), core.Pagination{})
	if err != nil {
		return nil, fmt.Errorf("engine: derive view hash: %w", err)
	}
	v := live.View{
		Tenant: tenant.TenantID,
		Hash:   hash,
		Store:  q.BackingStore,
		Poll: func(ctx context.Context) (*core.RowBatch, error) {
			rs, err := e.Execute(ctx, q)
			if err != nil {
				return nil, err
			}
			return &core.RowBatch{Table: target, Columns: rs.Columns, Rows: rs.Rows}, nil
		},
	}
	return e.live.Attach(v)
}

// Unsubscribe detaches a live subscription. The last detach for a view
// tears down its feed.
func (e *Engine) Unsubscribe(sub *live.Subscription) {
	e.live.Detach(sub)
}

// PublishLive injects a row batch into the live feed for a view hash.
// Exposed for ingest-side processes pushing fresh rows.
func (e *Engine) PublishLive(ctx context.Context, tenant, hash string, batch core.RowBatch) error {
	if e.live == nil {
		return fmt.Errorf("engine: live delivery is not configured")
	}
	return e.live.Publish(ctx, tenant, hash, batch)
}

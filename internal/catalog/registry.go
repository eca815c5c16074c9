package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// tenantView is one tenant's slice of a snapshot.
type tenantView struct {
	// tables keyed by qualified name, already entitlement-filtered
	tables map[string]core.TableSchema
	// stale is set when the last refresh for this tenant failed and
	// the view is the previous last-good one
	stale       bool
	refreshedAt time.Time
}

// snapshot is the registry's immutable state. Readers load it through
// an atomic pointer and never observe partial updates; refresh builds a
// replacement wholesale and swaps it in.
type snapshot struct {
	tenants map[string]*tenantView
	version uint64
}

// Registry caches catalog results per tenant and serves unified
// TableSchema lookups regardless of backing store. A failed refresh
// keeps serving the last-good snapshot flagged stale; catalog outages
// never surface to readers.
type Registry struct {
	sources []Source
	ent     EntitlementSource
	logger  *slog.Logger

	interval time.Duration

	snap    atomic.Pointer[snapshot]
	version atomic.Uint64

	mu      sync.Mutex // serializes refreshes
	tenants map[string]struct{}

	wake chan struct{}
}

// Config holds registry configuration.
type Config struct {
	// Sources are the catalog clients, one per backing store family.
	Sources []Source
	// Entitlements resolves tenant allow-lists; nil means unrestricted.
	Entitlements EntitlementSource
	// RefreshInterval is the periodic refresh cadence (default 5m).
	RefreshInterval time.Duration
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// NewRegistry creates a registry with an empty snapshot. Call Refresh
// or Start before expecting lookups to succeed.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	r := &Registry{
		sources:  cfg.Sources,
		ent:      cfg.Entitlements,
		logger:   logger,
		interval: interval,
		tenants:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
	r.snap.Store(&snapshot{tenants: map[string]*tenantView{}})
	return r
}

// SchemaVersion returns the current structural version. It bumps
// whenever a refresh observes a different table/column shape, and is
// folded into preview cache keys so structural changes invalidate
// cached results transparently.
func (r *Registry) SchemaVersion() uint64 {
	return r.snap.Load().version
}

// Refresh rebuilds the tenant's view from every catalog source and
// atomically swaps the snapshot. A source failure keeps the tenant's
// previous view and flags it stale; Refresh only returns an error when
// no previous view exists either.
func (r *Registry) Refresh(ctx context.Context, tenant string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenant] = struct{}{}

	tables := make(map[string]core.TableSchema)
	failed := false
	for _, src := range r.sources {
		listed, err := src.ListTables(ctx, tenant)
		if err != nil {
			r.logger.Warn("catalog source unreachable, keeping last-good snapshot",
				"source", src.Name(), "tenant", tenant, "error", err)
			failed = true
			continue
		}
		for _, ts := range listed {
			tables[ts.QualifiedName()] = ts
		}
	}

	prev := r.snap.Load()
	prevView := prev.tenants[tenant]

	if failed {
		if prevView == nil {
			return fmt.Errorf("catalog refresh failed for tenant %s with no prior snapshot", tenant)
		}
		r.swap(tenant, &tenantView{
			tables:      prevView.tables,
			stale:       true,
			refreshedAt: prevView.refreshedAt,
		}, prev.version)
		return nil
	}

	if allow := r.allowList(ctx, tenant); allow != nil {
		for name := range tables {
			if !allow[name] {
				delete(tables, name)
			}
		}
	}

	version := prev.version
	if prevView == nil || fingerprint(tables) != fingerprint(prevView.tables) {
		version = r.version.Add(1)
	}

	r.swap(tenant, &tenantView{tables: tables, refreshedAt: time.Now()}, version)
	r.logger.Debug("catalog refreshed", "tenant", tenant, "tables", len(tables), "schema_version", version)
	return nil
}

// swap publishes a rebuilt snapshot containing the new tenant view.
// Caller holds r.mu.
func (r *Registry) swap(tenant string, view *tenantView, version uint64) {
	prev := r.snap.Load()
	next := &snapshot{
		tenants: make(map[string]*tenantView, len(prev.tenants)+1),
		version: version,
	}
	for k, v := range prev.tenants {
		next.tenants[k] = v
	}
	next.tenants[tenant] = view
	r.snap.Store(next)
}

func (r *Registry) allowList(ctx context.Context, tenant string) map[string]bool {
	if r.ent == nil {
		return nil
	}
	allow, err := r.ent.AllowedTables(ctx, tenant)
	if err != nil {
		r.logger.Warn("entitlement lookup failed, serving unfiltered catalog",
			"tenant", tenant, "error", err)
		return nil
	}
	return allow
}

// fingerprint summarizes a table map's structure for version-bump
// detection. Column order matters; freshness and store do not.
func fingerprint(tables map[string]core.TableSchema) string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var b []byte
	for _, name := range names {
		b = append(b, name...)
		b = append(b, '{')
		for _, c := range tables[name].Columns {
			b = append(b, c.Name...)
			b = append(b, ':')
			b = append(b, c.DType...)
			b = append(b, ',')
		}
		b = append(b, '}')
	}
	return string(b)
}

// ListTables returns the tenant's visible tables sorted by qualified
// name, and whether the view is stale. An unknown tenant gets an empty
// list, never an error.
func (r *Registry) ListTables(tenant string) ([]core.TableSchema, bool) {
	view := r.snap.Load().tenants[tenant]
	if view == nil {
		return nil, false
	}
	out := make([]core.TableSchema, 0, len(view.tables))
	for _, ts := range view.tables {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out, view.stale
}

// GetColumns returns the columns of the tenant's view of db.table.
func (r *Registry) GetColumns(tenant, db, table string) ([]core.Column, error) {
	ts, err := r.Resolve(tenant, db, table)
	if err != nil {
		return nil, err
	}
	return ts.Columns, nil
}

// Resolve returns the full TableSchema for db.table as visible to the
// tenant, or core.ErrNotFound.
func (r *Registry) Resolve(tenant, db, table string) (core.TableSchema, error) {
	view := r.snap.Load().tenants[tenant]
	if view == nil {
		return core.TableSchema{}, fmt.Errorf("tenant %s: %s.%s: %w", tenant, db, table, core.ErrNotFound)
	}
	qualified := table
	if db != "" {
		qualified = db + "." + table
	}
	if ts, ok := view.tables[qualified]; ok {
		return ts, nil
	}
	// Allow unqualified lookup when the name is unambiguous.
	if db == "" {
		var found *core.TableSchema
		for name, ts := range view.tables {
			if ts.Table == table {
				if found != nil {
					return core.TableSchema{}, fmt.Errorf("table %s is ambiguous (also %s): %w", table, name, core.ErrNotFound)
				}
				t := ts
				found = &t
			}
		}
		if found != nil {
			return *found, nil
		}
	}
	return core.TableSchema{}, fmt.Errorf("tenant %s: %s: %w", tenant, qualified, core.ErrNotFound)
}

// EnsureTenant loads the tenant's view if it has never been refreshed.
// A no-op for tenants already in the snapshot, even stale ones; the
// periodic loop keeps those current.
func (r *Registry) EnsureTenant(ctx context.Context, tenant string) error {
	if r.snap.Load().tenants[tenant] != nil {
		return nil
	}
	return r.Refresh(ctx, tenant)
}

// Invalidate wakes the refresh loop so the next cycle runs immediately.
// Safe to call from any goroutine, never blocks.
func (r *Registry) Invalidate() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start runs the periodic refresh loop until ctx is cancelled. Each
// cycle refreshes every tenant seen so far.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}

		for _, tenant := range r.knownTenants() {
			if err := r.Refresh(ctx, tenant); err != nil {
				r.logger.Warn("periodic catalog refresh failed", "tenant", tenant, "error", err)
			}
		}
	}
}

func (r *Registry) knownTenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tenants))
	for t := range r.tenants {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

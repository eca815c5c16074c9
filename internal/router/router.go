// Package router dispatches compiled queries to their backing store
// client and enforces safety profiles.
//
// Interactive paths never retry: a failed execution surfaces as a typed
// ExecutionError with a human-readable reason, and there is no silent
// fallback to stale data.
package router

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowstack-labs/flowsql/pkg/core"
	"github.com/flowstack-labs/flowsql/pkg/store"
)

// Config configures the router.
type Config struct {
	// Stores lists the configured backing stores. Clients are created
	// through the store registry and connected by Connect.
	Stores []store.Config

	// Profiles overrides the per-freshness safety profiles. Missing
	// freshness classes fall back to defaults.
	Profiles map[core.Freshness]core.SafetyProfile

	// Logger defaults to a discard logger when nil.
	Logger *slog.Logger
}

// DefaultProfiles returns the built-in safety profile per freshness
// class. Hot data gets tight bounds, cold data room to scan.
func DefaultProfiles() map[core.Freshness]core.SafetyProfile {
	return map[core.Freshness]core.SafetyProfile{
		core.FreshnessHot:  {RowCap: 5000, Timeout: 2 * time.Second, MemoryCeiling: 256 << 20},
		core.FreshnessWarm: {RowCap: 50000, Timeout: 10 * time.Second, MemoryCeiling: 1 << 30},
		core.FreshnessCool: {RowCap: 200000, Timeout: 30 * time.Second, MemoryCeiling: 2 << 30},
		core.FreshnessCold: {RowCap: 1000000, Timeout: 2 * time.Minute, MemoryCeiling: 4 << 30},
	}
}

// Router routes compiled queries to store clients by backing store id.
type Router struct {
	logger   *slog.Logger
	profiles map[core.Freshness]core.SafetyProfile

	mu      sync.RWMutex
	stores  map[string]store.Store
	configs map[string]store.Config
}

// New creates a router with clients instantiated (but not connected)
// for every configured store.
func New(cfg Config) (*Router, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	profiles := DefaultProfiles()
	for f, p := range cfg.Profiles {
		profiles[f] = p
	}

	r := &Router{
		logger:   logger,
		profiles: profiles,
		stores:   make(map[string]store.Store),
		configs:  make(map[string]store.Config),
	}
	for _, sc := range cfg.Stores {
		if sc.Name == "" {
			return nil, fmt.Errorf("store config missing name")
		}
		if _, dup := r.stores[sc.Name]; dup {
			return nil, fmt.Errorf("duplicate store name %q", sc.Name)
		}
		st, err := store.New(sc, logger)
		if err != nil {
			return nil, fmt.Errorf("creating store %q: %w", sc.Name, err)
		}
		r.stores[sc.Name] = st
		r.configs[sc.Name] = sc
	}
	return r, nil
}

// Add registers a ready store client under a name, replacing any
// configured client. Used by tests and embedded setups that manage
// connections themselves.
func (r *Router) Add(name string, st store.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = st
}

// Connect connects every configured store. Fails fast on the first
// unreachable store.
func (r *Router) Connect(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, st := range r.stores {
		cfg, ok := r.configs[name]
		if !ok {
			continue
		}
		r.logger.Info("connecting store",
			slog.String("store", name), slog.String("driver", cfg.Driver))
		if err := st.Connect(ctx, cfg); err != nil {
			return fmt.Errorf("connecting store %q: %w", name, err)
		}
	}
	return nil
}

// Close closes every store client, returning the first error.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, st := range r.stores {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing store %q: %w", name, err)
		}
	}
	return firstErr
}

// ProfileFor returns the safety profile for a freshness class.
func (r *Router) ProfileFor(f core.Freshness) core.SafetyProfile {
	if p, ok := r.profiles[f]; ok {
		return p
	}
	return r.profiles[core.FreshnessWarm]
}

// Execute runs a compiled query on its backing store under the given
// safety profile.
func (r *Router) Execute(ctx context.Context, q *core.CompiledQuery, profile core.SafetyProfile) (*core.ResultSet, error) {
	st, err := r.storeFor(q.BackingStore)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rs, qerr := st.Query(ctx, store.Query{SQL: q.SQLText, Params: q.Parameters, Profile: profile})
	if qerr != nil {
		execErr := classify(qerr, q.BackingStore)
		r.logger.Warn("query failed",
			slog.String("store", q.BackingStore),
			slog.String("kind", string(execErr.Kind)),
			slog.Duration("elapsed", time.Since(start)))
		return nil, execErr
	}

	r.logger.Debug("query executed",
		slog.String("store", q.BackingStore),
		slog.Int("rows", len(rs.Rows)),
		slog.Duration("elapsed", time.Since(start)))
	return rs, nil
}

// Healthy probes a single store. Used by the live service's
// health-check loop.
func (r *Router) Healthy(ctx context.Context, storeID string) error {
	st, err := r.storeFor(storeID)
	if err != nil {
		return err
	}
	return st.Ping(ctx)
}

// Lookup performs a keyvalue point lookup on the named store.
func (r *Router) Lookup(ctx context.Context, storeID, bucket, key string) ([]byte, error) {
	st, err := r.storeFor(storeID)
	if err != nil {
		return nil, err
	}
	kv, ok := st.(store.KeyValueLookup)
	if !ok {
		return nil, &core.ExecutionError{
			Kind:    core.ExecRejected,
			Store:   storeID,
			Message: "store does not serve point lookups",
		}
	}
	return kv.Lookup(ctx, bucket, key)
}

func (r *Router) storeFor(storeID string) (store.Store, *core.ExecutionError) {
	r.mu.RLock()
	st, ok := r.stores[storeID]
	r.mu.RUnlock()
	if !ok {
		return nil, &core.ExecutionError{
			Kind:    core.ExecRejected,
			Store:   storeID,
			Message: fmt.Sprintf("no configured store %q", storeID),
		}
	}
	return st, nil
}

// classify maps a raw store error onto the execution error taxonomy.
func classify(err error, storeID string) *core.ExecutionError {
	var execErr *core.ExecutionError
	if errors.As(err, &execErr) {
		if execErr.Store == "" {
			execErr.Store = storeID
		}
		return execErr
	}

	kind := core.ExecRejected
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = core.ExecTimeout
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		kind = core.ExecUnreachable
	}
	return &core.ExecutionError{Kind: kind, Store: storeID, Message: err.Error(), Err: err}
}

package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack-labs/flowsql/internal/testutil"
	"github.com/flowstack-labs/flowsql/pkg/core"
)

// fakeSource is a scriptable catalog source.
type fakeSource struct {
	name   string
	tables []core.TableSchema
	err    error
	calls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) ListTables(_ context.Context, _ string) ([]core.TableSchema, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tables, nil
}

func tradesTable() core.TableSchema {
	return core.TableSchema{
		StoreID:   "analytics",
		Family:    core.StoreColumnar,
		Database:  "market",
		Table:     "trades",
		Freshness: core.FreshnessWarm,
		Columns: []core.Column{
			{Name: "symbol", DType: core.TypeString},
			{Name: "notional", DType: core.TypeFloat64},
			{Name: "event_time", DType: core.TypeDatetime},
		},
		SymbolColumn: "symbol",
	}
}

func ordersTable() core.TableSchema {
	return core.TableSchema{
		StoreID:  "meta",
		Family:   core.StoreMetadata,
		Database: "app",
		Table:    "orders",
		Columns: []core.Column{
			{Name: "id", DType: core.TypeInt64},
			{Name: "tenant_id", DType: core.TypeString},
		},
		TenantColumn: "tenant_id",
	}
}

func newTestRegistry(t *testing.T, sources ...Source) *Registry {
	t.Helper()
	return NewRegistry(Config{
		Sources: sources,
		Logger:  testutil.NewTestLogger(t),
	})
}

func TestRegistry_RefreshAndLookup(t *testing.T) {
	src := &fakeSource{name: "analytics", tables: []core.TableSchema{tradesTable(), ordersTable()}}
	r := newTestRegistry(t, src)

	require.NoError(t, r.Refresh(context.Background(), "t1"))

	tables, stale := r.ListTables("t1")
	require.Len(t, tables, 2)
	assert.False(t, stale)

	cols, err := r.GetColumns("t1", "market", "trades")
	require.NoError(t, err)
	assert.Len(t, cols, 3)

	// Unqualified lookup resolves when unambiguous.
	ts, err := r.Resolve("t1", "", "orders")
	require.NoError(t, err)
	assert.Equal(t, "app.orders", ts.QualifiedName())
}

func TestRegistry_UnknownTableIsNotFound(t *testing.T) {
	src := &fakeSource{name: "analytics", tables: []core.TableSchema{tradesTable()}}
	r := newTestRegistry(t, src)
	require.NoError(t, r.Refresh(context.Background(), "t1"))

	_, err := r.Resolve("t1", "market", "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = r.Resolve("unknown-tenant", "market", "trades")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistry_FailedRefreshKeepsLastGood(t *testing.T) {
	src := &fakeSource{name: "analytics", tables: []core.TableSchema{tradesTable()}}
	r := newTestRegistry(t, src)
	require.NoError(t, r.Refresh(context.Background(), "t1"))

	src.err = errors.New("catalog down")
	require.NoError(t, r.Refresh(context.Background(), "t1"))

	tables, stale := r.ListTables("t1")
	assert.Len(t, tables, 1, "last-good snapshot must survive a failed refresh")
	assert.True(t, stale)

	// Recovery clears the stale flag.
	src.err = nil
	require.NoError(t, r.Refresh(context.Background(), "t1"))
	_, stale = r.ListTables("t1")
	assert.False(t, stale)
}

func TestRegistry_FirstRefreshFailureErrors(t *testing.T) {
	src := &fakeSource{name: "analytics", err: errors.New("catalog down")}
	r := newTestRegistry(t, src)

	err := r.Refresh(context.Background(), "t1")
	assert.Error(t, err, "no prior snapshot to fall back to")
}

func TestRegistry_EntitlementFiltering(t *testing.T) {
	src := &fakeSource{name: "analytics", tables: []core.TableSchema{tradesTable(), ordersTable()}}
	r := NewRegistry(Config{
		Sources: []Source{src},
		Entitlements: StaticEntitlements{
			Tables: map[string]map[string]bool{
				"t1": {"market.trades": true},
			},
		},
		Logger: testutil.NewTestLogger(t),
	})

	require.NoError(t, r.Refresh(context.Background(), "t1"))

	tables, _ := r.ListTables("t1")
	require.Len(t, tables, 1)
	assert.Equal(t, "market.trades", tables[0].QualifiedName())

	_, err := r.Resolve("t1", "app", "orders")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegistry_SchemaVersionBumpsOnStructuralChange(t *testing.T) {
	src := &fakeSource{name: "analytics", tables: []core.TableSchema{tradesTable()}}
	r := newTestRegistry(t, src)

	require.NoError(t, r.Refresh(context.Background(), "t1"))
	v1 := r.SchemaVersion()

	// Identical refresh keeps the version.
	require.NoError(t, r.Refresh(context.Background(), "t1"))
	assert.Equal(t, v1, r.SchemaVersion())

	// Adding a column bumps it.
	changed := tradesTable()
	changed.Columns = append(changed.Columns, core.Column{Name: "venue", DType: core.TypeString})
	src.tables = []core.TableSchema{changed}
	require.NoError(t, r.Refresh(context.Background(), "t1"))
	assert.Greater(t, r.SchemaVersion(), v1)
}

func TestRegistry_EnsureTenantLoadsOnFirstTouch(t *testing.T) {
	src := &fakeSource{name: "analytics", tables: []core.TableSchema{tradesTable()}}
	r := newTestRegistry(t, src)

	_, err := r.Resolve("t1", "market", "trades")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, r.EnsureTenant(context.Background(), "t1"))
	_, err = r.Resolve("t1", "market", "trades")
	require.NoError(t, err)

	// Already-loaded tenants are not refreshed again.
	calls := src.calls
	require.NoError(t, r.EnsureTenant(context.Background(), "t1"))
	assert.Equal(t, calls, src.calls)
}

package engine

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack-labs/flowsql/internal/catalog"
	"github.com/flowstack-labs/flowsql/internal/live"
	"github.com/flowstack-labs/flowsql/internal/preview"
	"github.com/flowstack-labs/flowsql/internal/router"
	"github.com/flowstack-labs/flowsql/pkg/core"
	"github.com/flowstack-labs/flowsql/pkg/store"
)

type staticSource struct {
	tables []core.TableSchema
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) ListTables(context.Context, string) ([]core.TableSchema, error) {
	return s.tables, nil
}

var testTenant = core.TenantContext{
	TenantID:       "acme",
	AllowedSymbols: []string{"MSFT", "AAPL"},
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.DiscardHandler)
}

// testEngine wires a full engine over a single mocked columnar store.
func testEngine(t *testing.T, withLive bool) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	reg := catalog.NewRegistry(catalog.Config{
		Sources: []catalog.Source{staticSource{tables: []core.TableSchema{
			{
				StoreID:      "duckdb-main",
				Family:       core.StoreColumnar,
				Database:     "market",
				Table:        "trades",
				Freshness:    core.FreshnessWarm,
				SymbolColumn: "symbol",
				Columns: []core.Column{
					{Name: "symbol", DType: core.TypeString},
					{Name: "notional", DType: core.TypeFloat64},
				},
			},
		}}},
		Entitlements: catalog.StaticEntitlements{},
		Logger:       testLogger(t),
	})
	require.NoError(t, reg.Refresh(context.Background(), testTenant.TenantID))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rt, err := router.New(router.Config{Logger: testLogger(t)})
	require.NoError(t, err)
	rt.Add("duckdb-main", &store.BaseSQLStore{DB: db, Logger: testLogger(t)})

	cfg := Config{
		Registry: reg,
		Router:   rt,
		Previews: preview.NewService(preview.Config{
			Backend: preview.NewMemoryBackend(time.Minute),
			Logger:  testLogger(t),
		}),
		Logger: testLogger(t),
	}
	if withLive {
		lv, err := live.NewService(live.Config{
			Bus:            live.NewMemoryBus(),
			PollInterval:   10 * time.Millisecond,
			HealthInterval: 10 * time.Millisecond,
			Logger:         testLogger(t),
		})
		require.NoError(t, err)
		cfg.Live = lv
	}

	eng, err := New(cfg)
	require.NoError(t, err)
	return eng, mock
}

func tradesGraph() core.WorkflowGraph {
	return core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			{ID: "ds1", Type: core.NodeDataSource, Config: map[string]any{"database": "market", "table": "trades"}},
			{ID: "out1", Type: core.NodeTableOutput, Config: map[string]any{}},
		},
		Edges: []core.Edge{
			{SourceNode: "ds1", TargetNode: "out1"},
		},
	}
}

func TestNewRequiresRegistryAndRouter(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry")

	eng, mock := testEngine(t, false)
	require.NotNil(t, eng)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPropagateAndValidate(t *testing.T) {
	eng, _ := testEngine(t, false)

	res := eng.PropagateAndValidate(tradesGraph(), testTenant)
	require.True(t, res.OK())
	assert.Len(t, res.Schemas["ds1"], 2)

	bad := tradesGraph()
	bad.Nodes[0].Config["table"] = "nope"
	res = eng.PropagateAndValidate(bad, testTenant)
	require.False(t, res.OK())
	assert.Equal(t, "ds1", res.Err.NodeID)
}

func TestPreviewCachesRepeatedRequests(t *testing.T) {
	eng, mock := testEngine(t, false)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "market"."trades"`)).
		WithArgs("AAPL", "MSFT").
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "notional"}).
			AddRow("AAPL", 10.5).
			AddRow("MSFT", 20.0))

	ctx := context.Background()
	first, err := eng.Preview(ctx, tradesGraph(), "out1", testTenant, core.Pagination{})
	require.NoError(t, err)
	require.Len(t, first.Rows, 2)

	// Identical request again. The mock holds no second expectation,
	// so a cache miss here would fail the test.
	second, err := eng.Preview(ctx, tradesGraph(), "out1", testTenant, core.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, len(first.Rows), len(second.Rows))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreviewPaginationChangesCacheEntry(t *testing.T) {
	eng, mock := testEngine(t, false)

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"symbol", "notional"}).AddRow("AAPL", 10.5)
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "market"."trades"`)).WillReturnRows(rows())
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "market"."trades"`)).WillReturnRows(rows())

	ctx := context.Background()
	_, err := eng.Preview(ctx, tradesGraph(), "out1", testTenant, core.Pagination{Limit: 10})
	require.NoError(t, err)
	_, err = eng.Preview(ctx, tradesGraph(), "out1", testTenant, core.Pagination{Limit: 20})
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreviewCompileErrorSurfaces(t *testing.T) {
	eng, _ := testEngine(t, false)

	bad := tradesGraph()
	bad.Nodes[0].Config["table"] = "nope"
	_, err := eng.Preview(context.Background(), bad, "out1", testTenant, core.Pagination{})
	require.Error(t, err)

	var ce *core.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.CompileUnknownTable, ce.Kind)
}

func TestCompileReturnsBackingStore(t *testing.T) {
	eng, _ := testEngine(t, false)

	q, err := eng.Compile(tradesGraph(), "out1", testTenant, core.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, "duckdb-main", q.BackingStore)
	assert.Equal(t, core.StoreColumnar, q.Family)
	assert.True(t, q.TenantFilterApplied)
}

func TestSubscribeLiveSharesOneFeed(t *testing.T) {
	eng, _ := testEngine(t, true)

	sub1, err := eng.SubscribeLive(tradesGraph(), "out1", testTenant)
	require.NoError(t, err)
	sub2, err := eng.SubscribeLive(tradesGraph(), "out1", testTenant)
	require.NoError(t, err)
	assert.Equal(t, sub1.Subject(), sub2.Subject())

	// Wait for the health loop to promote the view to push mode, then
	// inject a batch and expect it on both subscribers.
	key := testTenant.TenantID + "/" + hashFromSubject(t, sub1.Subject())
	require.Eventually(t, func() bool {
		return eng.live.Modes()[key] == live.ModePush
	}, time.Second, 5*time.Millisecond)

	batch := core.RowBatch{
		Table:   "out1",
		Columns: []core.Column{{Name: "symbol", DType: core.TypeString}},
		Rows:    [][]any{{"AAPL"}},
	}
	require.NoError(t, eng.PublishLive(context.Background(), testTenant.TenantID, hashFromSubject(t, sub1.Subject()), batch))

	for _, sub := range []*live.Subscription{sub1, sub2} {
		select {
		case got := <-sub.Batches():
			assert.Equal(t, "AAPL", got.Rows[0][0])
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive batch")
		}
	}

	eng.Unsubscribe(sub1)
	eng.Unsubscribe(sub2)
	require.ErrorIs(t, sub2.Err(), core.ErrSubscriptionClosed)
}

func TestSubscribeLiveWithoutService(t *testing.T) {
	eng, _ := testEngine(t, false)

	_, err := eng.SubscribeLive(tradesGraph(), "out1", testTenant)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")

	err = eng.PublishLive(context.Background(), testTenant.TenantID, "abc", core.RowBatch{})
	require.Error(t, err)
}

func TestSubscribeLiveCompileErrorSurfaces(t *testing.T) {
	eng, _ := testEngine(t, true)

	g := tradesGraph()
	g.Edges = append(g.Edges, core.Edge{SourceNode: "out1", TargetNode: "ds1"})
	_, err := eng.SubscribeLive(g, "out1", testTenant)
	require.Error(t, err)

	var ce *core.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.CompileCycle, ce.Kind)
}

// hashFromSubject strips the "live.<tenant>." prefix from a subject.
func hashFromSubject(t *testing.T, subject string) string {
	t.Helper()
	prefix := "live." + testTenant.TenantID + "."
	require.True(t, len(subject) > len(prefix))
	return subject[len(prefix):]
}

func TestExecuteClassifiesStoreErrors(t *testing.T) {
	eng, mock := testEngine(t, false)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "market"."trades"`)).
		WillReturnError(errors.New("boom"))

	q, err := eng.Compile(tradesGraph(), "out1", testTenant, core.Pagination{})
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), q)
	require.Error(t, err)
	var ee *core.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "duckdb-main", ee.Store)
}

package compile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

type fakeResolver struct {
	tables map[string]core.TableSchema
}

func (f fakeResolver) Resolve(_, database, table string) (core.TableSchema, error) {
	ts, ok := f.tables[database+"."+table]
	if !ok {
		return core.TableSchema{}, core.ErrNotFound
	}
	return ts, nil
}

func testResolver() fakeResolver {
	return fakeResolver{tables: map[string]core.TableSchema{
		"market.trades": {
			StoreID: "duckdb-main", Family: core.StoreColumnar,
			Database: "market", Table: "trades", Freshness: core.FreshnessWarm,
			SymbolColumn: "symbol",
			Columns: []core.Column{
				{Name: "symbol", DType: core.TypeString},
				{Name: "notional", DType: core.TypeFloat64},
				{Name: "event_time", DType: core.TypeDatetime},
				{Name: "side", DType: core.TypeString},
			},
		},
		"market.instruments": {
			StoreID: "duckdb-main", Family: core.StoreColumnar,
			Database: "market", Table: "instruments", Freshness: core.FreshnessCool,
			Columns: []core.Column{
				{Name: "symbol", DType: core.TypeString},
				{Name: "sector", DType: core.TypeString},
			},
		},
		"market.trades_eu": {
			StoreID: "duckdb-main", Family: core.StoreColumnar,
			Database: "market", Table: "trades_eu", Freshness: core.FreshnessWarm,
			Columns: []core.Column{
				{Name: "symbol", DType: core.TypeString},
				{Name: "notional", DType: core.TypeFloat64},
				{Name: "venue", DType: core.TypeString},
			},
		},
		"app.orders": {
			StoreID: "pg-meta", Family: core.StoreMetadata,
			Database: "app", Table: "orders", Freshness: core.FreshnessHot,
			TenantColumn: "tenant_id",
			Columns: []core.Column{
				{Name: "tenant_id", DType: core.TypeString},
				{Name: "id", DType: core.TypeInt64},
				{Name: "status", DType: core.TypeString},
				{Name: "amount", DType: core.TypeFloat64},
			},
		},
	}}
}

func testTenant() core.TenantContext {
	return core.TenantContext{
		TenantID:       "acme",
		AllowedSymbols: []string{"MSFT", "AAPL"},
	}
}

func node(id string, t core.NodeType, cfg map[string]any) core.NodeSpec {
	return core.NodeSpec{ID: id, Type: t, Config: cfg}
}

func edge(src, dst string, port int) core.Edge {
	return core.Edge{SourceNode: src, TargetNode: dst, TargetPort: port}
}

func compileKind(t *testing.T, err error) core.CompileErrorKind {
	t.Helper()
	var ce *core.CompilationError
	require.ErrorAs(t, err, &ce)
	return ce.Kind
}

func TestCompileChainMergesToSingleSelect(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("flt", core.NodeFilter, map[string]any{
				"conditions": []any{map[string]any{"column": "notional", "op": "gt", "value": 1000}},
			}),
			node("sel", core.NodeSelect, map[string]any{"columns": []any{"symbol", "notional"}}),
			node("srt", core.NodeSort, map[string]any{
				"keys": []any{map[string]any{"column": "notional", "descending": true}},
			}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{
			edge("src", "flt", 0), edge("flt", "sel", 0),
			edge("sel", "srt", 0), edge("srt", "out", 0),
		},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "symbol", "notional" FROM "market"."trades" WHERE "symbol" IN (?, ?) AND "notional" > ? ORDER BY "notional" DESC LIMIT 10000`,
		q.SQLText)
	assert.Equal(t, []any{"AAPL", "MSFT", 1000}, q.Parameters)
	assert.Equal(t, "duckdb-main", q.BackingStore)
	assert.Equal(t, core.StoreColumnar, q.Family)
	assert.Equal(t, core.FreshnessWarm, q.Freshness)
	assert.True(t, q.TenantFilterApplied)
}

func TestCompileDeterministic(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("ren", core.NodeRename, map[string]any{
				"mapping": map[string]any{"notional": "value", "side": "direction", "symbol": "ticker"},
			}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "ren", 0), edge("ren", "out", 0)},
	}

	c := New(testResolver(), Options{})
	first, err := c.Compile(graph, "out", testTenant(), core.Pagination{Limit: 100})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := c.Compile(graph, "out", testTenant(), core.Pagination{Limit: 100})
		require.NoError(t, err)
		require.Equal(t, first.SQLText, again.SQLText)
		require.Equal(t, first.Parameters, again.Parameters)
	}
}

func TestCompileJoinGroupBy(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("trades", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("instr", core.NodeDataSource, map[string]any{"database": "market", "table": "instruments"}),
			node("jn", core.NodeJoin, map[string]any{"type": "inner", "left_key": "symbol", "right_key": "symbol"}),
			node("agg", core.NodeGroupBy, map[string]any{
				"keys": []any{"sector"},
				"aggregations": []any{
					map[string]any{"column": "notional", "func": "sum", "alias": "total_notional"},
				},
			}),
			node("out", core.NodeChartOutput, nil),
		},
		Edges: []core.Edge{
			edge("trades", "jn", 0), edge("instr", "jn", 1),
			edge("jn", "agg", 0), edge("agg", "out", 0),
		},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(q.SQLText, "INNER JOIN"))
	assert.Equal(t, 1, strings.Count(q.SQLText, "GROUP BY"))
	assert.Contains(t, q.SQLText, `SUM("notional") AS "total_notional"`)
	assert.Contains(t, q.SQLText, `ON t0."symbol" = t1."symbol"`)
	assert.Equal(t, []any{"AAPL", "MSFT"}, q.Parameters)
	assert.True(t, q.TenantFilterApplied)
}

func TestCompileCycleRejectedBeforeSQL(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("a", core.NodeFilter, map[string]any{"conditions": []any{}}),
			node("b", core.NodeFilter, map[string]any{"conditions": []any{}}),
		},
		Edges: []core.Edge{edge("a", "b", 0), edge("b", "a", 0)},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "b", testTenant(), core.Pagination{})
	require.Error(t, err)
	assert.Nil(t, q)
	assert.Equal(t, core.CompileCycle, compileKind(t, err))
}

func TestCompileLiteralsAlwaysBound(t *testing.T) {
	payload := `'; DROP TABLE x; --`
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("flt", core.NodeFilter, map[string]any{
				"conditions": []any{map[string]any{"column": "side", "op": "eq", "value": payload}},
			}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "flt", 0), edge("flt", "out", 0)},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.NotContains(t, q.SQLText, "DROP TABLE")
	assert.Contains(t, q.Parameters, payload)
}

func TestCompilePaginationBound(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "out", 0)},
	}

	c := New(testResolver(), Options{MaxOffset: 1000})
	_, err := c.Compile(graph, "out", testTenant(), core.Pagination{Offset: 1001})
	require.Error(t, err)
	assert.Equal(t, core.CompilePaginationBound, compileKind(t, err))
}

func TestCompileUnknownTable(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "missing"}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "out", 0)},
	}

	c := New(testResolver(), Options{})
	_, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.Error(t, err)
	assert.Equal(t, core.CompileUnknownTable, compileKind(t, err))
}

func TestCompileIncompleteJoinBinding(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("jn", core.NodeJoin, map[string]any{"type": "inner", "left_key": "symbol", "right_key": "symbol"}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "jn", 0), edge("jn", "out", 0)},
	}

	c := New(testResolver(), Options{})
	_, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.Error(t, err)
	assert.Equal(t, core.CompileIncompleteBind, compileKind(t, err))
}

func TestCompileCrossStoreRejected(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("trades", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("orders", core.NodeDataSource, map[string]any{"database": "app", "table": "orders"}),
			node("jn", core.NodeJoin, map[string]any{"type": "left", "left_key": "symbol", "right_key": "id"}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{
			edge("trades", "jn", 0), edge("orders", "jn", 1), edge("jn", "out", 0),
		},
	}

	c := New(testResolver(), Options{})
	_, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.Error(t, err)
	assert.Equal(t, core.CompileBadConfig, compileKind(t, err))
}

func TestCompileTenantColumnInjection(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "app", "table": "orders"}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "out", 0)},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT * FROM "app"."orders" WHERE "tenant_id" = $1 LIMIT 10000`,
		q.SQLText)
	assert.Equal(t, []any{"acme"}, q.Parameters)
	assert.Equal(t, core.StoreMetadata, q.Family)
	assert.True(t, q.TenantFilterApplied)
}

func TestCompileFilterAfterGroupByUsesHaving(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "app", "table": "orders"}),
			node("agg", core.NodeGroupBy, map[string]any{
				"keys": []any{"status"},
				"aggregations": []any{
					map[string]any{"column": "amount", "func": "count", "alias": "n"},
				},
			}),
			node("flt", core.NodeFilter, map[string]any{
				"conditions": []any{map[string]any{"column": "n", "op": "gt", "value": 5}},
			}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{
			edge("src", "agg", 0), edge("agg", "flt", 0), edge("flt", "out", 0),
		},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.Contains(t, q.SQLText, `HAVING COUNT("amount") > $2`)
	assert.NotContains(t, q.SQLText, `WHERE COUNT`)
	assert.Equal(t, []any{"acme", 5}, q.Parameters)
}

func TestCompileFilterAfterWindowWraps(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("win", core.NodeWindow, map[string]any{
				"name": "rn", "func": "row_number",
				"partition_by": []any{"symbol"},
				"order_by":     []any{map[string]any{"column": "event_time", "descending": true}},
			}),
			node("flt", core.NodeFilter, map[string]any{
				"conditions": []any{map[string]any{"column": "rn", "op": "lte", "value": 10}},
			}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{
			edge("src", "win", 0), edge("win", "flt", 0), edge("flt", "out", 0),
		},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.Contains(t, q.SQLText, `ROW_NUMBER() OVER (PARTITION BY "symbol" ORDER BY "event_time" DESC)`)
	// Window level, its source, and the wrapping filter level.
	assert.Equal(t, 3, strings.Count(q.SQLText, "SELECT"))
	assert.Contains(t, q.SQLText, `WHERE "rn" <= ?`)
}

func TestCompileLimitTightensRowCap(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("lim", core.NodeLimit, map[string]any{"count": 50}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "lim", 0), edge("lim", "out", 0)},
	}

	c := New(testResolver(), Options{})

	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)
	assert.Contains(t, q.SQLText, "LIMIT 50")

	// Caller pagination below the node limit wins.
	q, err = c.Compile(graph, "out", testTenant(), core.Pagination{Limit: 20})
	require.NoError(t, err)
	assert.Contains(t, q.SQLText, "LIMIT 20")
}

func TestCompileUnionProjectsSharedColumns(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("us", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("eu", core.NodeDataSource, map[string]any{"database": "market", "table": "trades_eu"}),
			node("un", core.NodeUnion, map[string]any{"all": false}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{
			edge("us", "un", 0), edge("eu", "un", 1), edge("un", "out", 0),
		},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.Contains(t, q.SQLText, ") UNION (")
	assert.NotContains(t, q.SQLText, "UNION ALL")
	// Both arms project only the shared columns, left-input order.
	assert.Equal(t, 2, strings.Count(q.SQLText, `SELECT "symbol", "notional" FROM`))
	assert.NotContains(t, q.SQLText, `"venue"`)
	assert.NotContains(t, q.SQLText, `"event_time"`)
}

func TestCompilePivotBindsPivotValues(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("pv", core.NodePivot, map[string]any{
				"keys":         []any{"symbol"},
				"pivot_column": "side",
				"pivot_values": []any{"sell", "buy"},
				"aggregation":  map[string]any{"column": "notional", "func": "sum"},
			}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "pv", 0), edge("pv", "out", 0)},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(q.SQLText, `CASE WHEN "side" =`))
	assert.Contains(t, q.SQLText, `AS "buy_sum_notional"`)
	assert.Contains(t, q.SQLText, `AS "sell_sum_notional"`)
	// Pivot value columns are emitted in ascending value order and the
	// values ride as parameters, after the tenant symbol bindings.
	assert.Equal(t, []any{"buy", "sell", "AAPL", "MSFT"}, q.Parameters)
	assert.NotContains(t, q.SQLText, "'buy'")
}

func TestCompileFormulaColumn(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			node("src", core.NodeDataSource, map[string]any{"database": "market", "table": "trades"}),
			node("fx", core.NodeFormula, map[string]any{
				"name": "notional_k", "dtype": "float64",
				"expression": "round(notional / 1000, 2)",
			}),
			node("out", core.NodeTableOutput, nil),
		},
		Edges: []core.Edge{edge("src", "fx", 0), edge("fx", "out", 0)},
	}

	c := New(testResolver(), Options{})
	q, err := c.Compile(graph, "out", testTenant(), core.Pagination{})
	require.NoError(t, err)

	assert.Contains(t, q.SQLText, `AS "notional_k"`)
	assert.Contains(t, q.SQLText, `ROUND("notional" / 1000, 2)`)
}

func TestCompileTargetNotInGraph(t *testing.T) {
	c := New(testResolver(), Options{})
	_, err := c.Compile(core.WorkflowGraph{}, "nope", testTenant(), core.Pagination{})
	require.Error(t, err)
	assert.Equal(t, core.CompileBadConfig, compileKind(t, err))
}

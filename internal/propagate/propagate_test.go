package propagate

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

var tradesCols = []core.Column{
	{Name: "symbol", DType: core.TypeString},
	{Name: "notional", DType: core.TypeFloat64},
	{Name: "event_time", DType: core.TypeDatetime},
}

var instrumentCols = []core.Column{
	{Name: "symbol", DType: core.TypeString},
	{Name: "sector", DType: core.TypeString},
}

func testLookup(_ string, table string) ([]core.Column, error) {
	switch table {
	case "trades":
		return tradesCols, nil
	case "instruments":
		return instrumentCols, nil
	}
	return nil, fmt.Errorf("table %s: %w", table, core.ErrNotFound)
}

// TestTransformFixtures runs the canonical fixture set against the
// transform table. A client-side re-implementation of propagation runs
// the same file; disagreement here means the two runtimes diverged.
func TestTransformFixtures(t *testing.T) {
	set, err := LoadFixtures(filepath.Join("testdata", "transforms.json"))
	require.NoError(t, err)
	require.Equal(t, 1, set.Version)
	require.NotEmpty(t, set.Fixtures)

	for _, fx := range set.Fixtures {
		t.Run(fx.Name, func(t *testing.T) {
			got, err := fx.Run(testLookup)
			if fx.WantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, fx.Want, got)
		})
	}
}

func TestTransformTable_CoversAllNodeTypes(t *testing.T) {
	for _, nt := range core.AllNodeTypes {
		_, ok := TransformFor(nt)
		assert.True(t, ok, "node type %s has no transform", nt)
	}
}

func sourceNode(id, table string) core.NodeSpec {
	return core.NodeSpec{ID: id, Type: core.NodeDataSource, Config: map[string]any{
		"database": "market", "table": table,
	}}
}

func edgeTo(src, dst string, port int) core.Edge {
	return core.Edge{SourceNode: src, TargetNode: dst, TargetPort: port}
}

func TestPropagate_LinearChain(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			sourceNode("n1", "trades"),
			{ID: "n2", Type: core.NodeFilter, Config: map[string]any{
				"conditions": []any{map[string]any{"column": "symbol", "op": "eq", "value": "AAPL"}},
			}},
			{ID: "n3", Type: core.NodeSelect, Config: map[string]any{
				"columns": []any{"symbol", "notional"},
			}},
			{ID: "n4", Type: core.NodeTableOutput, Config: map[string]any{}},
		},
		Edges: []core.Edge{
			edgeTo("n1", "n2", 0),
			edgeTo("n2", "n3", 0),
			edgeTo("n3", "n4", 0),
		},
	}

	res := Propagate(graph, testLookup)
	require.True(t, res.OK(), "unexpected error: %v", res.Err)

	assert.Equal(t, tradesCols, res.Schemas["n1"])
	assert.Equal(t, tradesCols, res.Schemas["n2"])
	assert.Equal(t, []core.Column{
		{Name: "symbol", DType: core.TypeString},
		{Name: "notional", DType: core.TypeFloat64},
	}, res.Schemas["n3"])
	assert.Nil(t, res.Schemas["n4"], "output nodes emit no schema")
	assert.Equal(t, res.Schemas["n3"], res.InputSchemas["n4"])
}

func TestPropagate_JoinAndGroupBy(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			sourceNode("n1", "trades"),
			sourceNode("n2", "instruments"),
			{ID: "n3", Type: core.NodeJoin, Config: map[string]any{
				"type": "inner", "left_key": "symbol", "right_key": "symbol",
			}},
			{ID: "n4", Type: core.NodeGroupBy, Config: map[string]any{
				"keys": []any{"sector"},
				"aggregations": []any{
					map[string]any{"column": "notional", "func": "sum"},
				},
			}},
		},
		Edges: []core.Edge{
			edgeTo("n1", "n3", 0),
			edgeTo("n2", "n3", 1),
			edgeTo("n3", "n4", 0),
		},
	}

	res := Propagate(graph, testLookup)
	require.True(t, res.OK(), "unexpected error: %v", res.Err)

	assert.Equal(t, []core.Column{
		{Name: "symbol", DType: core.TypeString},
		{Name: "notional", DType: core.TypeFloat64},
		{Name: "event_time", DType: core.TypeDatetime},
		{Name: "symbol_right", DType: core.TypeString},
		{Name: "sector", DType: core.TypeString},
	}, res.Schemas["n3"])

	assert.Equal(t, []core.Column{
		{Name: "sector", DType: core.TypeString},
		{Name: "sum_notional", DType: core.TypeFloat64},
	}, res.Schemas["n4"])
}

func TestPropagate_HaltsAndReportsUnreachable(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			sourceNode("n1", "trades"),
			{ID: "n2", Type: core.NodeFilter, Config: map[string]any{
				"conditions": []any{map[string]any{"column": "no_such", "op": "eq", "value": 1}},
			}},
			{ID: "n3", Type: core.NodeSort, Config: map[string]any{
				"keys": []any{map[string]any{"column": "event_time"}},
			}},
			{ID: "n4", Type: core.NodeTableOutput, Config: map[string]any{}},
		},
		Edges: []core.Edge{
			edgeTo("n1", "n2", 0),
			edgeTo("n2", "n3", 0),
			edgeTo("n3", "n4", 0),
		},
	}

	res := Propagate(graph, testLookup)
	require.False(t, res.OK())
	assert.Equal(t, "n2", res.Err.NodeID)
	assert.Contains(t, res.Err.Message, "no_such")
	assert.Equal(t, []string{"n3", "n4"}, res.Unreachable)

	// Nothing downstream of the failure got a schema.
	_, ok := res.Schemas["n3"]
	assert.False(t, ok)
}

func TestPropagate_ArityErrors(t *testing.T) {
	tests := []struct {
		name  string
		graph core.WorkflowGraph
	}{
		{
			name: "join with one input",
			graph: core.WorkflowGraph{
				Nodes: []core.NodeSpec{
					sourceNode("n1", "trades"),
					{ID: "n2", Type: core.NodeJoin, Config: map[string]any{"left_key": "symbol", "right_key": "symbol"}},
				},
				Edges: []core.Edge{edgeTo("n1", "n2", 0)},
			},
		},
		{
			name: "filter with no input",
			graph: core.WorkflowGraph{
				Nodes: []core.NodeSpec{{ID: "n1", Type: core.NodeFilter, Config: map[string]any{}}},
			},
		},
		{
			name: "source with an input",
			graph: core.WorkflowGraph{
				Nodes: []core.NodeSpec{
					sourceNode("n1", "trades"),
					sourceNode("n2", "instruments"),
				},
				Edges: []core.Edge{edgeTo("n1", "n2", 0)},
			},
		},
		{
			name: "output feeding downstream",
			graph: core.WorkflowGraph{
				Nodes: []core.NodeSpec{
					sourceNode("n1", "trades"),
					{ID: "n2", Type: core.NodeTableOutput, Config: map[string]any{}},
					{ID: "n3", Type: core.NodeUnique, Config: map[string]any{}},
				},
				Edges: []core.Edge{edgeTo("n1", "n2", 0), edgeTo("n2", "n3", 0)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Propagate(tt.graph, testLookup)
			assert.False(t, res.OK())
		})
	}
}

func TestPropagate_UnknownNodeType(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{{ID: "n1", Type: "melt", Config: map[string]any{}}},
	}
	res := Propagate(graph, testLookup)
	require.False(t, res.OK())
	assert.Contains(t, res.Err.Message, "unknown node type")
}

func TestPropagate_CycleRejected(t *testing.T) {
	graph := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			{ID: "n1", Type: core.NodeFilter, Config: map[string]any{}},
			{ID: "n2", Type: core.NodeUnique, Config: map[string]any{}},
		},
		Edges: []core.Edge{
			edgeTo("n1", "n2", 0),
			edgeTo("n2", "n1", 0),
		},
	}
	res := Propagate(graph, testLookup)
	require.False(t, res.OK())
}

func TestPropagate_PresentationFieldsIgnored(t *testing.T) {
	withPos := core.WorkflowGraph{
		Nodes: []core.NodeSpec{
			{ID: "n1", Type: core.NodeDataSource, Config: map[string]any{
				"database": "market", "table": "trades",
				"position": map[string]any{"x": 100, "y": 250},
				"selected": true,
			}},
		},
	}
	res := Propagate(withPos, testLookup)
	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.Equal(t, tradesCols, res.Schemas["n1"])
}

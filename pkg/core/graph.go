package core

// NodeType identifies one of the canvas node kinds the engine knows how
// to type-propagate and compile.
type NodeType string

// Canvas node types.
const (
	NodeDataSource NodeType = "data_source"
	NodeFilter     NodeType = "filter"
	NodeSelect     NodeType = "select"
	NodeRename     NodeType = "rename"
	NodeSort       NodeType = "sort"
	NodeLimit      NodeType = "limit"
	NodeSample     NodeType = "sample"
	NodeUnique     NodeType = "unique"
	NodeJoin       NodeType = "join"
	NodeUnion      NodeType = "union"
	NodeGroupBy    NodeType = "group_by"
	NodePivot      NodeType = "pivot"
	NodeFormula    NodeType = "formula"
	NodeWindow     NodeType = "window"

	NodeChartOutput NodeType = "chart_output"
	NodeTableOutput NodeType = "table_output"
	NodeKPIOutput   NodeType = "kpi_output"
)

// AllNodeTypes lists every supported node type in a fixed order.
var AllNodeTypes = []NodeType{
	NodeDataSource, NodeFilter, NodeSelect, NodeRename, NodeSort,
	NodeLimit, NodeSample, NodeUnique, NodeJoin, NodeUnion,
	NodeGroupBy, NodePivot, NodeFormula, NodeWindow,
	NodeChartOutput, NodeTableOutput, NodeKPIOutput,
}

// Known reports whether t is a supported node type.
func (t NodeType) Known() bool {
	for _, k := range AllNodeTypes {
		if t == k {
			return true
		}
	}
	return false
}

// InputArity returns the exact number of input edges a node of this
// type requires before it can be compiled.
func (t NodeType) InputArity() int {
	switch t {
	case NodeDataSource:
		return 0
	case NodeJoin, NodeUnion:
		return 2
	default:
		return 1
	}
}

// Terminal reports whether the node type is an output sink that emits
// no downstream schema.
func (t NodeType) Terminal() bool {
	switch t {
	case NodeChartOutput, NodeTableOutput, NodeKPIOutput:
		return true
	}
	return false
}

// NodeSpec is one node of a workflow graph as supplied by the editor.
// InputSchema is computed by schema propagation, never authored.
type NodeSpec struct {
	ID     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config"`

	InputSchema []Column `json:"input_schema,omitempty"`
}

// Edge connects an output port of one node to an input port of another.
// Ports are small integers: 0 for single-input nodes, 0 and 1 for the
// left/right inputs of join and union.
type Edge struct {
	SourceNode string `json:"source_node_id"`
	SourcePort int    `json:"source_port"`
	TargetNode string `json:"target_node_id"`
	TargetPort int    `json:"target_port"`
}

// WorkflowGraph is the serialized DAG the editor sends on every compile
// or preview call. The engine treats it as an opaque value object and
// never persists it.
type WorkflowGraph struct {
	Nodes []NodeSpec `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// Node returns the node with the given id and whether it exists.
func (g WorkflowGraph) Node(id string) (NodeSpec, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

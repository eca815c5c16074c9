// Package propagate computes every node's output schema across a
// workflow graph. Propagation is a pure function over immutable inputs:
// given a node type, its configuration, and its resolved input schemas,
// the output schema is fully determined. The same transform table
// drives validation, so a graph that propagates cleanly is also safe to
// compile.
package propagate

import (
	"fmt"

	"github.com/flowstack-labs/flowsql/internal/dag"
	"github.com/flowstack-labs/flowsql/pkg/core"
)

// Result is the outcome of propagating one workflow graph.
type Result struct {
	// Schemas maps node id to its computed output schema. Terminal
	// output nodes appear with a nil schema. Nodes downstream of the
	// first error are absent.
	Schemas map[string][]core.Column

	// InputSchemas maps node id to its resolved (port-ordered,
	// concatenated) input schema, the value stored on NodeSpec.
	InputSchemas map[string][]core.Column

	// Err is the first validation error, nil on success.
	Err *core.SchemaValidationError

	// Unreachable lists node ids that could not be typed because they
	// sit downstream of the failing node, ascending.
	Unreachable []string
}

// OK reports whether propagation completed without error.
func (r *Result) OK() bool { return r.Err == nil }

// BuildDAG validates a workflow graph's shape and builds its arena
// form: known node types, unique ids, edges referencing real nodes,
// and the exact input-port arity each node type requires. Shape
// violations come back as SchemaValidationError.
func BuildDAG(graph core.WorkflowGraph) (*dag.Graph, *core.SchemaValidationError) {
	g := dag.NewGraph()

	seen := make(map[string]bool, len(graph.Nodes))
	for _, n := range graph.Nodes {
		if n.ID == "" {
			return nil, &core.SchemaValidationError{NodeID: n.ID, Message: "node has empty id"}
		}
		if seen[n.ID] {
			return nil, &core.SchemaValidationError{NodeID: n.ID, Message: "duplicate node id"}
		}
		if !n.Type.Known() {
			return nil, &core.SchemaValidationError{NodeID: n.ID, Message: fmt.Sprintf("unknown node type %q", n.Type)}
		}
		seen[n.ID] = true
		g.AddNode(n.ID, n)
	}

	for _, e := range graph.Edges {
		if !seen[e.SourceNode] {
			return nil, &core.SchemaValidationError{NodeID: e.TargetNode, Port: e.TargetPort,
				Message: fmt.Sprintf("edge references unknown source node %q", e.SourceNode)}
		}
		if !seen[e.TargetNode] {
			return nil, &core.SchemaValidationError{NodeID: e.SourceNode, Port: e.SourcePort,
				Message: fmt.Sprintf("edge references unknown target node %q", e.TargetNode)}
		}
		if err := g.AddEdge(dag.Edge{
			Source: e.SourceNode, SourcePort: e.SourcePort,
			Target: e.TargetNode, TargetPort: e.TargetPort,
		}); err != nil {
			return nil, &core.SchemaValidationError{NodeID: e.TargetNode, Port: e.TargetPort, Message: err.Error()}
		}
	}

	for _, n := range graph.Nodes {
		if verr := checkArity(g, n); verr != nil {
			return nil, verr
		}
	}

	return g, nil
}

// checkArity enforces the exact input-port count and the no-output rule
// for terminal nodes.
func checkArity(g *dag.Graph, n core.NodeSpec) *core.SchemaValidationError {
	in := g.Incoming(n.ID)
	want := n.Type.InputArity()
	if len(in) != want {
		return &core.SchemaValidationError{NodeID: n.ID, Port: len(in),
			Message: fmt.Sprintf("%s requires exactly %d input(s), has %d", n.Type, want, len(in))}
	}
	for port, e := range in {
		if e.TargetPort != port {
			return &core.SchemaValidationError{NodeID: n.ID, Port: e.TargetPort,
				Message: fmt.Sprintf("%s input ports must be 0..%d with no gaps or duplicates", n.Type, want-1)}
		}
	}
	if n.Type.Terminal() && len(g.Outgoing(n.ID)) > 0 {
		return &core.SchemaValidationError{NodeID: n.ID,
			Message: fmt.Sprintf("%s is terminal and cannot feed downstream nodes", n.Type)}
	}
	return nil
}

// Propagate processes the graph in deterministic topological order,
// resolving each node's input schemas from already-processed upstream
// nodes and applying its transform. It halts at the first validation
// error but still reports every node made unreachable by it.
func Propagate(graph core.WorkflowGraph, lookup SchemaLookup) *Result {
	res := &Result{
		Schemas:      make(map[string][]core.Column),
		InputSchemas: make(map[string][]core.Column),
	}

	g, verr := BuildDAG(graph)
	if verr != nil {
		res.Err = verr
		return res
	}

	order, err := g.TopologicalSort()
	if err != nil {
		res.Err = &core.SchemaValidationError{Message: err.Error()}
		return res
	}

	for i, id := range order {
		node, _ := g.GetNode(id)
		spec := node.Data.(core.NodeSpec)

		inputs, inputErr := resolveInputs(g, res.Schemas, id)
		if inputErr == nil {
			inputErr = applyTransform(spec, inputs, lookup, res)
		}
		if inputErr != nil {
			res.Err = &core.SchemaValidationError{NodeID: id, Message: inputErr.Error()}
			res.Unreachable = unreachableFrom(g, order[i:], id)
			return res
		}
	}

	return res
}

// resolveInputs collects the output schemas of a node's upstream nodes
// in port order.
func resolveInputs(g *dag.Graph, schemas map[string][]core.Column, id string) ([][]core.Column, error) {
	in := g.Incoming(id)
	inputs := make([][]core.Column, 0, len(in))
	for _, e := range in {
		up, ok := schemas[e.Source]
		if !ok || up == nil {
			return nil, fmt.Errorf("upstream node %s provides no schema on port %d", e.Source, e.TargetPort)
		}
		inputs = append(inputs, up)
	}
	return inputs, nil
}

func applyTransform(spec core.NodeSpec, inputs [][]core.Column, lookup SchemaLookup, res *Result) error {
	fn, ok := TransformFor(spec.Type)
	if !ok {
		return fmt.Errorf("unknown node type %q", spec.Type)
	}
	out, err := fn(spec, inputs, lookup)
	if err != nil {
		return err
	}

	var flat []core.Column
	for _, in := range inputs {
		flat = append(flat, in...)
	}
	res.InputSchemas[spec.ID] = flat
	if !spec.Type.Terminal() {
		res.Schemas[spec.ID] = out
	} else {
		res.Schemas[spec.ID] = nil
	}
	return nil
}

// unreachableFrom lists the not-yet-processed nodes downstream of the
// failed node. Remaining nodes on independent branches are not typed
// either (propagation halted) but only truly downstream nodes are
// reported as unreachable.
func unreachableFrom(g *dag.Graph, remaining []string, failedID string) []string {
	downstream := make(map[string]bool)
	downstream[failedID] = true

	var out []string
	for _, id := range remaining {
		if id == failedID {
			continue
		}
		for _, e := range g.Incoming(id) {
			if downstream[e.Source] {
				downstream[id] = true
				out = append(out, id)
				break
			}
		}
	}
	return out
}

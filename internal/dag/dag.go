// Package dag provides directed acyclic graph operations for workflow
// graphs. It supports cycle detection, deterministic topological
// sorting, and backward subgraph extraction.
package dag

import (
	"fmt"
	"sort"
)

// Node represents a node in the DAG.
type Node struct {
	// ID is the unique identifier (workflow node id)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Edge is a port-labelled directed edge between two nodes.
type Edge struct {
	Source     string
	SourcePort int
	Target     string
	TargetPort int
}

// Graph represents a directed acyclic graph addressed by stable string
// ids with adjacency indexes in both directions. Nodes are never
// pointer-linked; traversal is index arithmetic.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]Edge // source -> outgoing edges
	inbound map[string][]Edge // target -> incoming edges
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]Edge),
		inbound: make(map[string][]Edge),
	}
}

// AddNode adds a node to the graph, updating its data if it already
// exists.
func (g *Graph) AddNode(id string, data any) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.edges[id] = []Edge{}
	g.inbound[id] = []Edge{}
}

// AddEdge adds a directed edge from source to target.
func (g *Graph) AddEdge(e Edge) error {
	if _, exists := g.nodes[e.Source]; !exists {
		return fmt.Errorf("source node %q does not exist", e.Source)
	}
	if _, exists := g.nodes[e.Target]; !exists {
		return fmt.Errorf("target node %q does not exist", e.Target)
	}
	if e.Source == e.Target {
		return fmt.Errorf("self-loop detected: %s", e.Source)
	}
	g.edges[e.Source] = append(g.edges[e.Source], e)
	g.inbound[e.Target] = append(g.inbound[e.Target], e)
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// Incoming returns the incoming edges of a node sorted by target port,
// so port 0 (the left input) always comes first.
func (g *Graph) Incoming(id string) []Edge {
	in := make([]Edge, len(g.inbound[id]))
	copy(in, g.inbound[id])
	sort.Slice(in, func(i, j int) bool { return in[i].TargetPort < in[j].TargetPort })
	return in
}

// Outgoing returns the outgoing edges of a node.
func (g *Graph) Outgoing(id string) []Edge {
	return g.edges[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, out := range g.edges {
		count += len(out)
	}
	return count
}

// NodeIDs returns all node ids in ascending order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasCycle returns true if the graph contains a cycle, along with the
// cycle path for error reporting.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, e := range g.edges[id] {
			child := e.Target
			if !visited[child] {
				path[child] = id
				if dfs(child) {
					return true
				}
			} else if recStack[child] {
				// Found cycle, reconstruct path
				cyclePath = []string{child}
				for curr := id; curr != child; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{child}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.NodeIDs() {
		if !visited[id] {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// TopologicalSort returns node ids in topological order using Kahn's
// algorithm, breaking ties by ascending node id so equal graphs always
// sort identically. Returns an error if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.inbound[id])
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		freed := false
		for _, e := range g.edges[id] {
			indegree[e.Target]--
			if indegree[e.Target] == 0 {
				ready = append(ready, e.Target)
				freed = true
			}
		}
		if freed {
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.nodes) {
		_, cyclePath := g.HasCycle()
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}
	return order, nil
}

// UpstreamClosure returns the set of node ids reachable by walking
// edges backward from the given node, including the node itself.
func (g *Graph) UpstreamClosure(id string) []string {
	seen := make(map[string]bool)

	var walk func(nodeID string)
	walk = func(nodeID string) {
		if seen[nodeID] {
			return
		}
		seen[nodeID] = true
		for _, e := range g.inbound[nodeID] {
			walk(e.Source)
		}
	}
	walk(id)

	result := make([]string, 0, len(seen))
	for nodeID := range seen {
		result = append(result, nodeID)
	}
	sort.Strings(result)
	return result
}

// Subgraph returns a new graph containing only the specified nodes and
// the edges between them.
func (g *Graph) Subgraph(nodeIDs []string) *Graph {
	sub := NewGraph()
	keep := make(map[string]bool, len(nodeIDs))

	for _, id := range nodeIDs {
		keep[id] = true
		if node, exists := g.nodes[id]; exists {
			sub.AddNode(id, node.Data)
		}
	}

	for _, id := range nodeIDs {
		for _, e := range g.edges[id] {
			if keep[e.Target] {
				_ = sub.AddEdge(e)
			}
		}
	}

	return sub
}

// Roots returns node ids with no incoming edges, ascending.
func (g *Graph) Roots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.inbound[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Leaves returns node ids with no outgoing edges, ascending.
func (g *Graph) Leaves() []string {
	var leaves []string
	for id := range g.nodes {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

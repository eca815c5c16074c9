package dag

import (
	"reflect"
	"testing"
)

func edge(src string, dst string) Edge {
	return Edge{Source: src, Target: dst}
}

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := NewGraph()

	g.AddNode("a", "node A")
	g.AddNode("b", "node B")
	g.AddNode("c", "node C")

	if g.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.NodeCount())
	}

	if err := g.AddEdge(edge("a", "b")); err != nil {
		t.Errorf("failed to add edge: %v", err)
	}
	if err := g.AddEdge(edge("b", "c")); err != nil {
		t.Errorf("failed to add edge: %v", err)
	}

	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", g.EdgeCount())
	}
}

func TestGraph_AddEdge_InvalidNodes(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)

	if err := g.AddEdge(edge("a", "nonexistent")); err == nil {
		t.Error("expected error for nonexistent target node")
	}
	if err := g.AddEdge(edge("nonexistent", "a")); err == nil {
		t.Error("expected error for nonexistent source node")
	}
}

func TestGraph_AddEdge_SelfLoop(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)

	if err := g.AddEdge(edge("a", "a")); err == nil {
		t.Error("expected error for self-loop")
	}
}

func TestGraph_Incoming_SortedByPort(t *testing.T) {
	g := NewGraph()
	g.AddNode("l", nil)
	g.AddNode("r", nil)
	g.AddNode("j", nil)

	// Attach the right input first; Incoming must still return port 0 first.
	_ = g.AddEdge(Edge{Source: "r", Target: "j", TargetPort: 1})
	_ = g.AddEdge(Edge{Source: "l", Target: "j", TargetPort: 0})

	in := g.Incoming("j")
	if len(in) != 2 {
		t.Fatalf("expected 2 incoming edges, got %d", len(in))
	}
	if in[0].Source != "l" || in[1].Source != "r" {
		t.Errorf("incoming edges not sorted by target port: %+v", in)
	}
}

func TestGraph_HasCycle(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	g.AddNode("c", nil)
	_ = g.AddEdge(edge("a", "b"))
	_ = g.AddEdge(edge("b", "c"))

	if has, _ := g.HasCycle(); has {
		t.Error("expected no cycle in a chain")
	}

	_ = g.AddEdge(edge("c", "a"))
	has, path := g.HasCycle()
	if !has {
		t.Fatal("expected cycle after closing the loop")
	}
	if len(path) < 3 {
		t.Errorf("expected cycle path, got %v", path)
	}
}

func TestGraph_TopologicalSort_Deterministic(t *testing.T) {
	// Diamond with independent roots: ties must break by ascending id.
	build := func() *Graph {
		g := NewGraph()
		for _, id := range []string{"n4", "n2", "n3", "n1"} {
			g.AddNode(id, nil)
		}
		_ = g.AddEdge(edge("n1", "n3"))
		_ = g.AddEdge(edge("n2", "n3"))
		_ = g.AddEdge(edge("n3", "n4"))
		return g
	}

	want := []string{"n1", "n2", "n3", "n4"}
	for i := 0; i < 10; i++ {
		order, err := build().TopologicalSort()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(order, want) {
			t.Fatalf("run %d: expected %v, got %v", i, want, order)
		}
	}
}

func TestGraph_TopologicalSort_Cycle(t *testing.T) {
	g := NewGraph()
	g.AddNode("a", nil)
	g.AddNode("b", nil)
	_ = g.AddEdge(edge("a", "b"))
	_ = g.AddEdge(edge("b", "a"))

	if _, err := g.TopologicalSort(); err == nil {
		t.Error("expected error for cyclic graph")
	}
}

func TestGraph_UpstreamClosure(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"src", "filter", "sort", "out", "stray"} {
		g.AddNode(id, nil)
	}
	_ = g.AddEdge(edge("src", "filter"))
	_ = g.AddEdge(edge("filter", "sort"))
	_ = g.AddEdge(edge("sort", "out"))

	got := g.UpstreamClosure("sort")
	want := []string{"filter", "sort", "src"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestGraph_Subgraph(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id, nil)
	}
	_ = g.AddEdge(edge("a", "b"))
	_ = g.AddEdge(edge("b", "c"))

	sub := g.Subgraph([]string{"a", "b"})
	if sub.NodeCount() != 2 {
		t.Errorf("expected 2 nodes, got %d", sub.NodeCount())
	}
	if sub.EdgeCount() != 1 {
		t.Errorf("expected 1 edge, got %d", sub.EdgeCount())
	}
}

func TestGraph_RootsAndLeaves(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id, nil)
	}
	_ = g.AddEdge(edge("a", "b"))
	_ = g.AddEdge(edge("b", "c"))

	if got := g.Roots(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("roots: expected [a], got %v", got)
	}
	if got := g.Leaves(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("leaves: expected [c], got %v", got)
	}
}

// Package preview serves workflow previews through a content-addressed
// result cache with single-flight execution and graceful degradation to
// direct execution when the cache backend is unhealthy.
package preview

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/flowstack-labs/flowsql/internal/dag"
	"github.com/flowstack-labs/flowsql/pkg/core"
)

// keyNode is one upstream node's cache-relevant identity: its id, type,
// and config with presentation-only fields stripped.
type keyNode struct {
	ID     string         `json:"id"`
	Type   core.NodeType  `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type keyEdge struct {
	Source     string `json:"source"`
	SourcePort int    `json:"source_port"`
	Target     string `json:"target"`
	TargetPort int    `json:"target_port"`
}

// keyPayload is the canonical form hashed into a cache key. Map keys
// are sorted by the JSON encoder, node entries by id, edges by target
// then port, so equal inputs always serialize identically.
type keyPayload struct {
	Tenant        string    `json:"tenant"`
	Target        string    `json:"target"`
	Nodes         []keyNode `json:"nodes"`
	Edges         []keyEdge `json:"edges"`
	SchemaVersion uint64    `json:"schema_version"`
	Limit         int       `json:"limit"`
	Offset        int       `json:"offset"`
}

// Key derives the content-addressed cache key for a preview request:
// sha256 over the canonical encoding of tenant, target, the target's
// upstream subgraph (configs canonicalized), the registry schema
// version, and pagination. Presentation-only config fields never affect
// the key; any semantic config change, rewiring, or schema version bump
// produces a new one.
func Key(tenant core.TenantContext, graph core.WorkflowGraph, target string, schemaVersion uint64, page core.Pagination) (string, error) {
	g := dag.NewGraph()
	for _, n := range graph.Nodes {
		g.AddNode(n.ID, n)
	}
	for _, e := range graph.Edges {
		if err := g.AddEdge(dag.Edge{
			Source: e.SourceNode, SourcePort: e.SourcePort,
			Target: e.TargetNode, TargetPort: e.TargetPort,
		}); err != nil {
			return "", fmt.Errorf("cache key: %w", err)
		}
	}
	if _, ok := g.GetNode(target); !ok {
		return "", fmt.Errorf("cache key: target node %q not in graph", target)
	}

	closure := g.UpstreamClosure(target)
	keep := make(map[string]bool, len(closure))
	for _, id := range closure {
		keep[id] = true
	}

	payload := keyPayload{
		Tenant:        tenant.TenantID,
		Target:        target,
		SchemaVersion: schemaVersion,
		Limit:         page.Limit,
		Offset:        page.Offset,
	}
	for _, id := range closure { // closure is sorted ascending
		node, _ := g.GetNode(id)
		spec := node.Data.(core.NodeSpec)
		payload.Nodes = append(payload.Nodes, keyNode{
			ID:     spec.ID,
			Type:   spec.Type,
			Config: core.CanonicalConfig(spec.Config),
		})
	}
	for _, e := range graph.Edges {
		if keep[e.SourceNode] && keep[e.TargetNode] {
			payload.Edges = append(payload.Edges, keyEdge{
				Source: e.SourceNode, SourcePort: e.SourcePort,
				Target: e.TargetNode, TargetPort: e.TargetPort,
			})
		}
	}
	sort.Slice(payload.Edges, func(i, j int) bool {
		a, b := payload.Edges[i], payload.Edges[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.TargetPort != b.TargetPort {
			return a.TargetPort < b.TargetPort
		}
		return a.Source < b.Source
	})

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

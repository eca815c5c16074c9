package propagate

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// Fixture is one canonical transform case. The fixture set under
// testdata/ is the single source of truth for transform behavior:
// the client-side re-implementation loads the same versioned file and
// must agree byte-for-byte on output schemas.
type Fixture struct {
	Name     string          `json:"name"`
	NodeType core.NodeType   `json:"node_type"`
	Config   map[string]any  `json:"config"`
	Inputs   [][]core.Column `json:"inputs"`

	Want      []core.Column `json:"want,omitempty"`
	WantError bool          `json:"want_error,omitempty"`
}

// FixtureSet is a versioned collection of transform fixtures.
type FixtureSet struct {
	Version  int       `json:"version"`
	Fixtures []Fixture `json:"fixtures"`
}

// LoadFixtures reads a fixture file.
func LoadFixtures(path string) (*FixtureSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var set FixtureSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if set.Version == 0 {
		return nil, fmt.Errorf("fixture file %s has no version", path)
	}
	return &set, nil
}

// Run applies the fixture against the canonical transform table.
func (f Fixture) Run(lookup SchemaLookup) ([]core.Column, error) {
	fn, ok := TransformFor(f.NodeType)
	if !ok {
		return nil, fmt.Errorf("fixture %s: unknown node type %q", f.Name, f.NodeType)
	}
	node := core.NodeSpec{ID: "fixture", Type: f.NodeType, Config: f.Config}
	return fn(node, f.Inputs, lookup)
}

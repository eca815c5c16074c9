package catalog

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// FileSource serves table schemas from a JSON manifest on disk. Used
// by deployments whose catalog service exports a static schema dump,
// and by single-node setups that declare their tables by hand.
//
// The manifest is a JSON array of table schemas:
//
//	[{"store_id": "duckdb-main", "family": "columnar",
//	  "database": "market", "table": "trades",
//	  "freshness": "warm", "symbol_column": "symbol",
//	  "columns": [{"name": "symbol", "dtype": "string"}]}]
type FileSource struct {
	name string
	path string
}

// NewFileSource creates a source reading the manifest at path. The
// file is re-read on every refresh, so edits are picked up without a
// restart.
func NewFileSource(name, path string) *FileSource {
	return &FileSource{name: name, path: path}
}

// Name implements Source.
func (s *FileSource) Name() string { return s.name }

// ListTables implements Source. The manifest is tenant-agnostic;
// per-tenant visibility is applied by the registry's entitlement
// filter.
func (s *FileSource) ListTables(_ context.Context, _ string) ([]core.TableSchema, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog manifest %s: %w", s.path, err)
	}
	var tables []core.TableSchema
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("parsing catalog manifest %s: %w", s.path, err)
	}
	for i, t := range tables {
		if t.Database == "" || t.Table == "" {
			return nil, fmt.Errorf("catalog manifest %s: entry %d is missing database or table", s.path, i)
		}
	}
	return tables, nil
}

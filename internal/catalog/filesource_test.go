package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

func TestFileSourceListTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{
			"store_id": "duckdb-main",
			"family": "columnar",
			"database": "market",
			"table": "trades",
			"freshness": "warm",
			"symbol_column": "symbol",
			"columns": [
				{"name": "symbol", "dtype": "string"},
				{"name": "notional", "dtype": "float64"}
			]
		}
	]`), 0o644))

	src := NewFileSource("static", path)
	assert.Equal(t, "static", src.Name())

	tables, err := src.ListTables(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "duckdb-main", tables[0].StoreID)
	assert.Equal(t, core.StoreColumnar, tables[0].Family)
	assert.Equal(t, "symbol", tables[0].SymbolColumn)
	require.Len(t, tables[0].Columns, 2)
	assert.Equal(t, core.TypeFloat64, tables[0].Columns[1].DType)
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource("static", filepath.Join(t.TempDir(), "nope.json"))
	_, err := src.ListTables(context.Background(), "acme")
	require.Error(t, err)
}

func TestFileSourceRejectsIncompleteEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"store_id": "x"}]`), 0o644))

	_, err := NewFileSource("static", path).ListTables(context.Background(), "acme")
	require.ErrorContains(t, err, "missing database or table")
}

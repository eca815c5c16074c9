package commands

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstack-labs/flowsql/internal/catalog"
	"github.com/flowstack-labs/flowsql/internal/config"
	"github.com/flowstack-labs/flowsql/internal/engine"
	"github.com/flowstack-labs/flowsql/internal/metric"
	"github.com/flowstack-labs/flowsql/internal/preview"
	"github.com/flowstack-labs/flowsql/internal/router"
	"github.com/flowstack-labs/flowsql/pkg/core"
	"github.com/flowstack-labs/flowsql/pkg/store"
)

type staticSource struct {
	tables []core.TableSchema
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) ListTables(context.Context, string) ([]core.TableSchema, error) {
	return s.tables, nil
}

// testFactory builds a runtime over a mocked columnar store so
// commands run without touching real databases.
func testFactory(t *testing.T) (RuntimeFactory, sqlmock.Sqlmock) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	reg := catalog.NewRegistry(catalog.Config{
		Sources: []catalog.Source{staticSource{tables: []core.TableSchema{
			{
				StoreID:      "duckdb-main",
				Family:       core.StoreColumnar,
				Database:     "market",
				Table:        "trades",
				Freshness:    core.FreshnessWarm,
				SymbolColumn: "symbol",
				Columns: []core.Column{
					{Name: "symbol", DType: core.TypeString},
					{Name: "notional", DType: core.TypeFloat64},
				},
			},
		}}},
		Entitlements: catalog.StaticEntitlements{},
		Logger:       logger,
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rt, err := router.New(router.Config{Logger: logger})
	require.NoError(t, err)
	rt.Add("duckdb-main", &store.BaseSQLStore{DB: db, Logger: logger})

	eng, err := engine.New(engine.Config{
		Registry: reg,
		Router:   rt,
		Previews: preview.NewService(preview.Config{
			Backend: preview.NewMemoryBackend(time.Minute),
			Logger:  logger,
		}),
		Logger: logger,
	})
	require.NoError(t, err)

	factory := func(context.Context) (*Runtime, error) {
		cfg := &config.Config{}
		cfg.ApplyDefaults()
		return &Runtime{
			Engine:   eng,
			Router:   rt,
			Registry: reg,
			Metrics:  metric.New(),
			Config:   cfg,
			Logger:   logger,
		}, nil
	}
	return factory, mock
}

func writeWorkflow(t *testing.T, wf workflowFile) string {
	t.Helper()
	data, err := json.Marshal(wf)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func tradesWorkflow() workflowFile {
	return workflowFile{
		Graph: core.WorkflowGraph{
			Nodes: []core.NodeSpec{
				{ID: "ds1", Type: core.NodeDataSource, Config: map[string]any{"database": "market", "table": "trades"}},
				{ID: "out1", Type: core.NodeTableOutput, Config: map[string]any{}},
			},
			Edges: []core.Edge{
				{SourceNode: "ds1", TargetNode: "out1"},
			},
		},
		Target: "out1",
		Tenant: core.TenantContext{TenantID: "acme", AllowedSymbols: []string{"MSFT", "AAPL"}},
	}
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadWorkflow(t *testing.T) {
	path := writeWorkflow(t, tradesWorkflow())
	wf, err := loadWorkflow(path)
	require.NoError(t, err)
	assert.Equal(t, "out1", wf.Target)
	assert.Len(t, wf.Graph.Nodes, 2)
}

func TestLoadWorkflowRejectsEmptyGraph(t *testing.T) {
	wf := tradesWorkflow()
	wf.Graph.Nodes = nil
	_, err := loadWorkflow(writeWorkflow(t, wf))
	require.ErrorContains(t, err, "no nodes")
}

func TestLoadWorkflowRejectsMissingTenant(t *testing.T) {
	wf := tradesWorkflow()
	wf.Tenant = core.TenantContext{}
	_, err := loadWorkflow(writeWorkflow(t, wf))
	require.ErrorContains(t, err, "no tenant")
}

func TestResolveTarget(t *testing.T) {
	wf := tradesWorkflow()

	got, err := resolveTarget(&wf, "other")
	require.NoError(t, err)
	assert.Equal(t, "other", got)

	got, err = resolveTarget(&wf, "")
	require.NoError(t, err)
	assert.Equal(t, "out1", got)

	wf.Target = ""
	_, err = resolveTarget(&wf, "")
	require.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	factory, _ := testFactory(t)
	path := writeWorkflow(t, tradesWorkflow())

	out, err := runCommand(t, NewValidateCommand(factory), path)
	require.NoError(t, err)
	assert.Contains(t, out, "workflow valid")
	assert.Contains(t, out, "symbol:string")
}

func TestValidateCommandReportsBadNode(t *testing.T) {
	factory, _ := testFactory(t)
	wf := tradesWorkflow()
	wf.Graph.Nodes[0].Config["table"] = "nope"

	_, err := runCommand(t, NewValidateCommand(factory), writeWorkflow(t, wf))
	require.ErrorContains(t, err, "ds1")
}

func TestCompileCommand(t *testing.T) {
	factory, _ := testFactory(t)
	path := writeWorkflow(t, tradesWorkflow())

	out, err := runCommand(t, NewCompileCommand(factory), path)
	require.NoError(t, err)
	assert.Contains(t, out, `FROM "market"."trades"`)
	assert.Contains(t, out, "-- store: duckdb-main (columnar, warm)")
	assert.Contains(t, out, "-- param 1: AAPL")
}

func TestCompileCommandJSON(t *testing.T) {
	factory, _ := testFactory(t)
	path := writeWorkflow(t, tradesWorkflow())

	out, err := runCommand(t, NewCompileCommand(factory), path, "--format", "json")
	require.NoError(t, err)

	var q core.CompiledQuery
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	assert.Equal(t, "duckdb-main", q.BackingStore)
	assert.True(t, q.TenantFilterApplied)
}

func TestPreviewCommand(t *testing.T) {
	factory, mock := testFactory(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "market"."trades"`)).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "notional"}).
			AddRow("AAPL", 10.5))

	out, err := runCommand(t, NewPreviewCommand(factory), writeWorkflow(t, tradesWorkflow()))
	require.NoError(t, err)
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "(1 rows)")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreviewCommandCSV(t *testing.T) {
	factory, mock := testFactory(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "market"."trades"`)).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "notional"}).
			AddRow("AAPL", 10.5))

	out, err := runCommand(t, NewPreviewCommand(factory), writeWorkflow(t, tradesWorkflow()), "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "symbol,notional")
	assert.Contains(t, out, "AAPL,10.5")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, NewVersionCommand("1.2.3"))
	require.NoError(t, err)
	assert.Contains(t, out, "FlowSQL v1.2.3")
}

// Package compile turns a validated workflow graph into a single
// parameterized SQL statement bound to one backing store.
//
// Compilation walks the subgraph feeding the target node in
// deterministic topological order, greedily merging runs of compatible
// transform nodes into one query level and sealing a level into a
// nested subquery at every merge boundary. All literal values are
// carried as bound parameters; tenant isolation predicates are injected
// unconditionally at the source level, never left to the caller.
package compile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowstack-labs/flowsql/internal/dag"
	"github.com/flowstack-labs/flowsql/internal/propagate"
	"github.com/flowstack-labs/flowsql/pkg/core"
)

// TableResolver resolves a data_source reference to its registry
// schema, entitlement-filtered for the tenant. Implemented by the
// schema registry.
type TableResolver interface {
	Resolve(tenant, database, table string) (core.TableSchema, error)
}

// Merge classification. Mergeable nodes accumulate clauses on the open
// level; everything else seals the level and opens a new one. Window is
// a boundary: its frame depends on its own ordering, not the level's.
var mergeable = map[core.NodeType]bool{
	core.NodeFilter: true,
	core.NodeSelect: true,
	core.NodeSort:   true,
	core.NodeRename: true,
	core.NodeLimit:  true,
	core.NodeUnique: true,
	core.NodeSample: true,
}

// Options configures compiler bounds.
type Options struct {
	// MaxOffset rejects pagination offsets beyond this bound
	// (default 100000).
	MaxOffset int
	// DefaultRowCap is the LIMIT applied to every compiled query when
	// the caller's pagination asks for less than nothing
	// (default 10000).
	DefaultRowCap int
}

// Compiler compiles workflow graphs against a table resolver.
type Compiler struct {
	resolver      TableResolver
	maxOffset     int
	defaultRowCap int
}

// New creates a compiler.
func New(resolver TableResolver, opts Options) *Compiler {
	maxOffset := opts.MaxOffset
	if maxOffset <= 0 {
		maxOffset = 100000
	}
	rowCap := opts.DefaultRowCap
	if rowCap <= 0 {
		rowCap = 10000
	}
	return &Compiler{resolver: resolver, maxOffset: maxOffset, defaultRowCap: rowCap}
}

func compileErr(kind core.CompileErrorKind, nodeID, format string, args ...any) *core.CompilationError {
	return &core.CompilationError{Kind: kind, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// Compile extracts the subgraph feeding targetID, merges it into nested
// query levels, and emits one CompiledQuery. Equal inputs produce
// byte-identical SQL text.
func (c *Compiler) Compile(graph core.WorkflowGraph, targetID string, tenant core.TenantContext, page core.Pagination) (*core.CompiledQuery, error) {
	if _, ok := graph.Node(targetID); !ok {
		return nil, compileErr(core.CompileBadConfig, targetID, "target node not present in graph")
	}
	if page.Offset > c.maxOffset {
		return nil, compileErr(core.CompilePaginationBound, targetID,
			"offset %d exceeds maximum %d", page.Offset, c.maxOffset)
	}

	full, cerr := c.buildArena(graph)
	if cerr != nil {
		return nil, cerr
	}

	sub := full.Subgraph(full.UpstreamClosure(targetID))
	order, err := sub.TopologicalSort()
	if err != nil {
		return nil, compileErr(core.CompileCycle, "", "%v", err)
	}
	if cerr := checkBindings(sub, order); cerr != nil {
		return nil, cerr
	}

	subGraph := toWorkflow(sub, order)
	tables, cerr := c.resolveSources(subGraph, tenant)
	if cerr != nil {
		return nil, cerr
	}

	prop := propagate.Propagate(subGraph, func(db, table string) ([]core.Column, error) {
		ts, err := c.resolver.Resolve(tenant.TenantID, db, table)
		if err != nil {
			return nil, err
		}
		return ts.Columns, nil
	})
	if !prop.OK() {
		return nil, compileErr(core.CompileBadConfig, prop.Err.NodeID, "%s", prop.Err.Message)
	}

	storeID, family, freshness, cerr := singleStore(tables)
	if cerr != nil {
		return nil, cerr
	}

	b := &builder{
		graph:   sub,
		tables:  tables,
		tenant:  tenant,
		levels:  make(map[string]*level),
		applied: false,
	}
	for _, id := range order {
		node, _ := sub.GetNode(id)
		if cerr := b.apply(node.Data.(core.NodeSpec)); cerr != nil {
			return nil, cerr
		}
	}

	target := b.levels[targetID]
	if target == nil {
		return nil, compileErr(core.CompileBadConfig, targetID, "target node produced no query")
	}
	c.finalize(target, page)

	sqlText, params := render(target, family)
	return &core.CompiledQuery{
		SQLText:             sqlText,
		Parameters:          params,
		BackingStore:        storeID,
		Family:              family,
		Freshness:           freshness,
		TenantFilterApplied: b.applied,
	}, nil
}

// buildArena validates node types and edge endpoints, producing the
// full-graph arena.
func (c *Compiler) buildArena(graph core.WorkflowGraph) (*dag.Graph, *core.CompilationError) {
	g := dag.NewGraph()
	for _, n := range graph.Nodes {
		if !n.Type.Known() {
			return nil, compileErr(core.CompileUnsupportedNode, n.ID, "unknown node type %q", n.Type)
		}
		g.AddNode(n.ID, n)
	}
	for _, e := range graph.Edges {
		if err := g.AddEdge(dag.Edge{
			Source: e.SourceNode, SourcePort: e.SourcePort,
			Target: e.TargetNode, TargetPort: e.TargetPort,
		}); err != nil {
			return nil, compileErr(core.CompileBadConfig, e.TargetNode, "%v", err)
		}
	}
	return g, nil
}

// checkBindings verifies every subgraph node has the exact inputs its
// type requires.
func checkBindings(sub *dag.Graph, order []string) *core.CompilationError {
	for _, id := range order {
		node, _ := sub.GetNode(id)
		spec := node.Data.(core.NodeSpec)
		in := sub.Incoming(id)
		want := spec.Type.InputArity()
		if len(in) != want {
			return compileErr(core.CompileIncompleteBind, id,
				"%s requires %d input(s), has %d", spec.Type, want, len(in))
		}
		for port, e := range in {
			if e.TargetPort != port {
				return compileErr(core.CompileIncompleteBind, id,
					"%s is missing input port %d", spec.Type, port)
			}
		}
	}
	return nil
}

// toWorkflow rebuilds a WorkflowGraph value from the extracted arena so
// the propagation engine can type it.
func toWorkflow(sub *dag.Graph, order []string) core.WorkflowGraph {
	var g core.WorkflowGraph
	for _, id := range order {
		node, _ := sub.GetNode(id)
		g.Nodes = append(g.Nodes, node.Data.(core.NodeSpec))
		for _, e := range sub.Incoming(id) {
			g.Edges = append(g.Edges, core.Edge{
				SourceNode: e.Source, SourcePort: e.SourcePort,
				TargetNode: e.Target, TargetPort: e.TargetPort,
			})
		}
	}
	return g
}

// resolveSources maps every data_source node to its registry table.
func (c *Compiler) resolveSources(graph core.WorkflowGraph, tenant core.TenantContext) (map[string]core.TableSchema, *core.CompilationError) {
	tables := make(map[string]core.TableSchema)
	for _, n := range graph.Nodes {
		if n.Type != core.NodeDataSource {
			continue
		}
		var cfg core.DataSourceConfig
		if err := core.DecodeConfig(n.Config, &cfg); err != nil {
			return nil, compileErr(core.CompileBadConfig, n.ID, "%v", err)
		}
		ts, err := c.resolver.Resolve(tenant.TenantID, cfg.Database, cfg.Table)
		if err != nil {
			return nil, compileErr(core.CompileUnknownTable, n.ID,
				"table %s.%s not found or not visible to tenant", cfg.Database, cfg.Table)
		}
		if !tenant.CanSee(ts.QualifiedName()) {
			return nil, compileErr(core.CompileUnknownTable, n.ID,
				"table %s not visible to tenant", ts.QualifiedName())
		}
		tables[n.ID] = ts
	}
	if len(tables) == 0 {
		return nil, compileErr(core.CompileBadConfig, "", "subgraph has no data_source node")
	}
	return tables, nil
}

var heat = map[core.Freshness]int{
	core.FreshnessHot: 3, core.FreshnessWarm: 2,
	core.FreshnessCool: 1, core.FreshnessCold: 0,
}

// singleStore requires every source table to live in one backing store;
// cross-store federation is not compiled.
func singleStore(tables map[string]core.TableSchema) (string, core.StoreFamily, core.Freshness, *core.CompilationError) {
	ids := make([]string, 0, len(tables))
	for id := range tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	first := tables[ids[0]]
	storeID, family, freshness := first.StoreID, first.Family, first.Freshness
	for _, id := range ids[1:] {
		ts := tables[id]
		if ts.StoreID != storeID {
			return "", "", "", compileErr(core.CompileBadConfig, id,
				"cross-store workflow: %s lives in %s, expected %s", ts.QualifiedName(), ts.StoreID, storeID)
		}
		if heat[ts.Freshness] > heat[freshness] {
			freshness = ts.Freshness
		}
	}
	return storeID, family, freshness, nil
}

// finalize applies the caller's pagination and the row cap to the
// outermost level.
func (c *Compiler) finalize(q *level, page core.Pagination) {
	rowCap := c.defaultRowCap
	if page.Limit > 0 && page.Limit < rowCap {
		rowCap = page.Limit
	}
	if q.limit < 0 || q.limit > rowCap {
		q.limit = rowCap
	}
	if page.Offset > 0 {
		q.offset = page.Offset
	}
}

// builder accumulates query levels across the topological walk.
type builder struct {
	graph   *dag.Graph
	tables  map[string]core.TableSchema
	tenant  core.TenantContext
	levels  map[string]*level
	applied bool
}

// inputLevel fetches the sealed-or-open level of the node's single
// upstream. When the upstream output fans out to several consumers, the
// shared level is sealed and each consumer opens its own wrapper so
// merges never leak across branches.
func (b *builder) inputLevel(id string) *level {
	in := b.graph.Incoming(id)
	return b.consumeLevel(in[0].Source)
}

func (b *builder) consumeLevel(up string) *level {
	lvl := b.levels[up]
	if len(b.graph.Outgoing(up)) > 1 {
		return wrapLevel(lvl)
	}
	return lvl
}

func wrapLevel(l *level) *level {
	return newLevel(l.seal("t0"), plainOutputs(l.outputs))
}

func (b *builder) apply(spec core.NodeSpec) *core.CompilationError {
	switch spec.Type {
	case core.NodeDataSource:
		return b.applyDataSource(spec)
	case core.NodeFilter:
		return b.applyFilter(spec)
	case core.NodeSelect:
		return b.applySelect(spec)
	case core.NodeRename:
		return b.applyRename(spec)
	case core.NodeSort:
		return b.applySort(spec)
	case core.NodeLimit:
		return b.applyLimit(spec)
	case core.NodeSample:
		return b.applySample(spec)
	case core.NodeUnique:
		lvl := b.inputLevel(spec.ID)
		lvl.distinct = true
		b.levels[spec.ID] = lvl
		return nil
	case core.NodeJoin:
		return b.applyJoin(spec)
	case core.NodeUnion:
		return b.applyUnion(spec)
	case core.NodeGroupBy:
		return b.applyGroupBy(spec)
	case core.NodePivot:
		return b.applyPivot(spec)
	case core.NodeFormula:
		return b.applyFormula(spec)
	case core.NodeWindow:
		return b.applyWindow(spec)
	case core.NodeChartOutput, core.NodeTableOutput, core.NodeKPIOutput:
		// Terminal sinks add no SQL; the accumulated level is the
		// compiled result.
		b.levels[spec.ID] = b.inputLevel(spec.ID)
		return nil
	}
	return compileErr(core.CompileUnsupportedNode, spec.ID, "unknown node type %q", spec.Type)
}

func (b *builder) applyDataSource(spec core.NodeSpec) *core.CompilationError {
	ts := b.tables[spec.ID]

	outputs := make([]outCol, len(ts.Columns))
	for i, c := range ts.Columns {
		outputs[i] = outCol{Name: c.Name, Expr: quoteIdent(c.Name)}
	}
	lvl := newLevel(tableSrc{rendered: quoteTable(ts.Database, ts.Table)}, outputs)

	// Tenant isolation, applied unconditionally at the source level.
	switch {
	case ts.TenantColumn != "":
		lvl.where = append(lvl.where, predGroup{logic: "AND", conds: []cond{{
			expr: quoteIdent(ts.TenantColumn), op: "=", values: []any{b.tenant.TenantID},
		}}})
		b.applied = true
	case ts.SymbolColumn != "":
		symbols := b.tenant.SortedSymbols()
		if len(symbols) == 0 {
			// No entitled symbols: the tenant sees no rows.
			lvl.where = append(lvl.where, predGroup{logic: "AND", conds: []cond{{
				expr: "1", op: "=", values: []any{0},
			}}})
		} else {
			values := make([]any, len(symbols))
			for i, s := range symbols {
				values[i] = s
			}
			lvl.where = append(lvl.where, predGroup{logic: "AND", conds: []cond{{
				expr: quoteIdent(ts.SymbolColumn), op: "IN", values: values, isIn: true,
			}}})
		}
		b.applied = true
	}

	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applyFilter(spec core.NodeSpec) *core.CompilationError {
	var cfg core.FilterConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	lvl := b.inputLevel(spec.ID)
	if lvl.windowed {
		// Window expressions cannot appear in WHERE; wrap so the
		// filter applies to the window level's output.
		lvl = wrapLevel(lvl)
	}

	logic := strings.ToUpper(cfg.Logic)
	if logic != "OR" {
		logic = "AND"
	}
	group := predGroup{logic: logic}
	for _, fc := range cfg.Conditions {
		out, ok := lvl.output(fc.Column)
		if !ok {
			return compileErr(core.CompileBadConfig, spec.ID,
				"filter references unknown column %q", fc.Column)
		}
		op, err := fc.Op.SQL()
		if err != nil {
			return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
		}
		cnd := cond{expr: out.Expr, op: op}
		switch fc.Op {
		case core.OpIn:
			values, ok := fc.Value.([]any)
			if !ok {
				values = []any{fc.Value}
			}
			if len(values) == 0 {
				return compileErr(core.CompileBadConfig, spec.ID, "IN filter on %q has no values", fc.Column)
			}
			cnd.isIn = true
			cnd.values = values
		case core.OpContains:
			cnd.isLike = true
			cnd.values = []any{"%" + fmt.Sprint(fc.Value) + "%"}
		default:
			cnd.values = []any{fc.Value}
		}
		group.conds = append(group.conds, cnd)
	}
	if len(group.conds) == 0 {
		b.levels[spec.ID] = lvl
		return nil
	}

	if lvl.aggregated {
		lvl.having = append(lvl.having, group)
	} else {
		lvl.where = append(lvl.where, group)
	}
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applySelect(spec core.NodeSpec) *core.CompilationError {
	var cfg core.SelectConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	lvl := b.inputLevel(spec.ID)
	lvl.materialize()

	want := make(map[string]bool, len(cfg.Columns))
	for _, name := range cfg.Columns {
		if _, ok := lvl.output(name); !ok {
			return compileErr(core.CompileBadConfig, spec.ID, "select references unknown column %q", name)
		}
		want[name] = true
	}
	var kept []outCol
	for _, c := range lvl.outputs {
		if want[c.Name] {
			kept = append(kept, c)
		}
	}
	lvl.outputs = kept
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applyRename(spec core.NodeSpec) *core.CompilationError {
	var cfg core.RenameConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	lvl := b.inputLevel(spec.ID)
	lvl.materialize()
	for i, c := range lvl.outputs {
		if renamed, ok := cfg.Mapping[c.Name]; ok {
			lvl.outputs[i].Name = renamed
		}
	}
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applySort(spec core.NodeSpec) *core.CompilationError {
	var cfg core.SortConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	lvl := b.inputLevel(spec.ID)

	// Later sorts win wholesale; a sort is a total reordering.
	lvl.orderBy = lvl.orderBy[:0]
	for _, key := range cfg.Keys {
		if _, ok := lvl.output(key.Column); !ok {
			return compileErr(core.CompileBadConfig, spec.ID, "sort references unknown column %q", key.Column)
		}
		lvl.orderBy = append(lvl.orderBy, orderKey{expr: quoteIdent(key.Column), descending: key.Descending})
	}
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applyLimit(spec core.NodeSpec) *core.CompilationError {
	var cfg core.LimitConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	lvl := b.inputLevel(spec.ID)
	if cfg.Count > 0 && (lvl.limit < 0 || cfg.Count < lvl.limit) {
		lvl.limit = cfg.Count
	}
	if cfg.Offset > 0 {
		lvl.offset = cfg.Offset
	}
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applySample(spec core.NodeSpec) *core.CompilationError {
	var cfg core.SampleConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	lvl := b.inputLevel(spec.ID)
	if cfg.Rows > 0 && (lvl.limit < 0 || cfg.Rows < lvl.limit) {
		lvl.limit = cfg.Rows
	}
	b.levels[spec.ID] = lvl
	return nil
}

// sideLevels returns the levels feeding ports 0 and 1, wrapping shared
// levels so per-side projection changes cannot leak across consumers.
func (b *builder) sideLevels(id string) (*level, *level) {
	in := b.graph.Incoming(id)
	return b.consumeLevel(in[0].Source), b.consumeLevel(in[1].Source)
}

func sealSide(l *level) source {
	if l.trivial() {
		return l.from
	}
	return subqSrc{q: l}
}

func (b *builder) applyJoin(spec core.NodeSpec) *core.CompilationError {
	var cfg core.JoinConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	joinType, err := joinTypeSQL(cfg.Type)
	if err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	left, right := b.sideLevels(spec.ID)
	if _, ok := left.output(cfg.LeftKey); !ok {
		return compileErr(core.CompileBadConfig, spec.ID, "join left key %q not found", cfg.LeftKey)
	}
	if _, ok := right.output(cfg.RightKey); !ok {
		return compileErr(core.CompileBadConfig, spec.ID, "join right key %q not found", cfg.RightKey)
	}
	suffix := cfg.Suffix
	if suffix == "" {
		suffix = "_right"
	}

	leftNames := make(map[string]bool, len(left.outputs))
	var outputs []outCol
	for _, c := range left.outputs {
		leftNames[c.Name] = true
		outputs = append(outputs, outCol{Name: c.Name, Expr: "t0." + quoteIdent(c.Name)})
	}
	for _, c := range right.outputs {
		name := c.Name
		if leftNames[name] {
			name += suffix
		}
		outputs = append(outputs, outCol{Name: name, Expr: "t1." + quoteIdent(c.Name)})
	}

	lvl := newLevel(joinSrc{
		left: sealSide(left), right: sealSide(right),
		leftAlias: "t0", rightAlias: "t1",
		joinType: joinType,
		onLeft:   quoteIdent(cfg.LeftKey), onRight: quoteIdent(cfg.RightKey),
	}, outputs)
	lvl.star = false
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applyUnion(spec core.NodeSpec) *core.CompilationError {
	var cfg core.UnionConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	left, right := b.sideLevels(spec.ID)

	// Project both sides onto the shared column set, left order.
	var shared []string
	for _, c := range left.outputs {
		if _, ok := right.output(c.Name); ok {
			shared = append(shared, c.Name)
		}
	}
	if len(shared) == 0 {
		return compileErr(core.CompileBadConfig, spec.ID, "union inputs share no column names")
	}
	projectTo := func(l *level) {
		l.materialize()
		aligned := make([]outCol, 0, len(shared))
		for _, name := range shared {
			c, _ := l.output(name)
			aligned = append(aligned, c)
		}
		l.outputs = aligned
	}
	projectTo(left)
	projectTo(right)

	outputs := make([]outCol, len(shared))
	for i, name := range shared {
		outputs[i] = outCol{Name: name, Expr: quoteIdent(name)}
	}
	lvl := newLevel(unionSrc{left: left, right: right, all: cfg.All, alias: "t0"}, outputs)
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applyGroupBy(spec core.NodeSpec) *core.CompilationError {
	var cfg core.GroupByConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	up := b.inputLevel(spec.ID)
	lvl := newLevel(up.seal("t0"), nil)
	lvl.star = false
	lvl.aggregated = true

	for _, key := range cfg.Keys {
		if _, ok := up.output(key); !ok {
			return compileErr(core.CompileBadConfig, spec.ID, "group_by key %q not found", key)
		}
		lvl.outputs = append(lvl.outputs, outCol{Name: key, Expr: quoteIdent(key)})
		lvl.groupBy = append(lvl.groupBy, quoteIdent(key))
	}
	for _, agg := range cfg.Aggregations {
		if _, ok := up.output(agg.Column); !ok {
			return compileErr(core.CompileBadConfig, spec.ID, "aggregation column %q not found", agg.Column)
		}
		fn, err := agg.Func.SQL()
		if err != nil {
			return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
		}
		lvl.outputs = append(lvl.outputs, outCol{
			Name: agg.OutputName(),
			Expr: fn + "(" + quoteIdent(agg.Column) + ")",
		})
	}
	if len(lvl.outputs) == 0 {
		return compileErr(core.CompileBadConfig, spec.ID, "group_by emits no columns")
	}
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applyPivot(spec core.NodeSpec) *core.CompilationError {
	var cfg core.PivotConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	up := b.inputLevel(spec.ID)
	if _, ok := up.output(cfg.PivotColumn); !ok {
		return compileErr(core.CompileBadConfig, spec.ID, "pivot column %q not found", cfg.PivotColumn)
	}
	if _, ok := up.output(cfg.Aggregation.Column); !ok {
		return compileErr(core.CompileBadConfig, spec.ID, "pivot aggregation column %q not found", cfg.Aggregation.Column)
	}
	fn, err := cfg.Aggregation.Func.SQL()
	if err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}

	lvl := newLevel(up.seal("t0"), nil)
	lvl.star = false
	lvl.aggregated = true

	for _, key := range cfg.Keys {
		if _, ok := up.output(key); !ok {
			return compileErr(core.CompileBadConfig, spec.ID, "pivot key %q not found", key)
		}
		lvl.outputs = append(lvl.outputs, outCol{Name: key, Expr: quoteIdent(key)})
		lvl.groupBy = append(lvl.groupBy, quoteIdent(key))
	}

	values := make([]string, len(cfg.PivotValues))
	copy(values, cfg.PivotValues)
	sort.Strings(values)
	for _, v := range values {
		// Pivot values are literals and stay bound parameters even
		// inside the projection.
		lvl.outputs = append(lvl.outputs, outCol{
			Name: v + "_" + cfg.Aggregation.OutputName(),
			Expr: fn + "(CASE WHEN " + quoteIdent(cfg.PivotColumn) + " = {{arg}} THEN " +
				quoteIdent(cfg.Aggregation.Column) + " END)",
			Args: []any{v},
		})
	}
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applyFormula(spec core.NodeSpec) *core.CompilationError {
	var cfg core.FormulaConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	up := b.inputLevel(spec.ID)

	inputs := make([]core.Column, len(up.outputs))
	for i, c := range up.outputs {
		inputs[i] = core.Column{Name: c.Name}
	}
	expr, err := validateFormula(cfg.Expression, inputs)
	if err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}

	lvl := newLevel(up.seal("t0"), nil)
	lvl.star = false
	lvl.outputs = plainOutputs(up.outputs)
	lvl.outputs = append(lvl.outputs, outCol{Name: cfg.Name, Expr: "(" + expr + ")"})
	b.levels[spec.ID] = lvl
	return nil
}

func (b *builder) applyWindow(spec core.NodeSpec) *core.CompilationError {
	var cfg core.WindowConfig
	if err := core.DecodeConfig(spec.Config, &cfg); err != nil {
		return compileErr(core.CompileBadConfig, spec.ID, "%v", err)
	}
	up := b.inputLevel(spec.ID)

	var fnExpr string
	switch cfg.Func {
	case core.WinRowNumber:
		fnExpr = "ROW_NUMBER()"
	case core.WinRank:
		fnExpr = "RANK()"
	case core.WinDenseRank:
		fnExpr = "DENSE_RANK()"
	case core.WinLag, core.WinLead, core.WinSum, core.WinAvg:
		if _, ok := up.output(cfg.Column); !ok {
			return compileErr(core.CompileBadConfig, spec.ID, "window argument column %q not found", cfg.Column)
		}
		fnExpr = strings.ToUpper(string(cfg.Func)) + "(" + quoteIdent(cfg.Column) + ")"
	default:
		return compileErr(core.CompileBadConfig, spec.ID, "unknown window function %q", cfg.Func)
	}

	var over strings.Builder
	over.WriteString(" OVER (")
	if len(cfg.PartitionBy) > 0 {
		over.WriteString("PARTITION BY ")
		for i, p := range cfg.PartitionBy {
			if _, ok := up.output(p); !ok {
				return compileErr(core.CompileBadConfig, spec.ID, "window partition column %q not found", p)
			}
			if i > 0 {
				over.WriteString(", ")
			}
			over.WriteString(quoteIdent(p))
		}
		over.WriteString(" ")
	}
	over.WriteString("ORDER BY ")
	for i, key := range cfg.OrderBy {
		if _, ok := up.output(key.Column); !ok {
			return compileErr(core.CompileBadConfig, spec.ID, "window order column %q not found", key.Column)
		}
		if i > 0 {
			over.WriteString(", ")
		}
		over.WriteString(quoteIdent(key.Column))
		if key.Descending {
			over.WriteString(" DESC")
		}
	}
	over.WriteString(")")

	lvl := newLevel(up.seal("t0"), nil)
	lvl.star = false
	lvl.windowed = true
	lvl.outputs = plainOutputs(up.outputs)
	lvl.outputs = append(lvl.outputs, outCol{Name: cfg.Name, Expr: fnExpr + over.String()})
	b.levels[spec.ID] = lvl
	return nil
}

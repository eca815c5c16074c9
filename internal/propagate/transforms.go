package propagate

import (
	"fmt"
	"sort"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// SchemaLookup resolves a catalog table to its columns. Supplied by the
// schema registry; transforms themselves stay pure.
type SchemaLookup func(database, table string) ([]core.Column, error)

// Transform computes a node's output schema from its resolved input
// schemas and configuration. inputs is ordered by input port.
type Transform func(node core.NodeSpec, inputs [][]core.Column, lookup SchemaLookup) ([]core.Column, error)

// transforms is the canonical node-type transform table. Any client
// re-implementation is tested against the same fixtures in testdata/,
// not hand-synced against this code.
var transforms = map[core.NodeType]Transform{
	core.NodeDataSource: transformDataSource,

	core.NodeFilter: transformFilter,
	core.NodeSort:   transformSort,
	core.NodeLimit:  transformPassthrough,
	core.NodeSample: transformPassthrough,
	core.NodeUnique: transformPassthrough,

	core.NodeSelect:  transformSelect,
	core.NodeRename:  transformRename,
	core.NodeJoin:    transformJoin,
	core.NodeUnion:   transformUnion,
	core.NodeGroupBy: transformGroupBy,
	core.NodePivot:   transformPivot,
	core.NodeFormula: transformFormula,
	core.NodeWindow:  transformWindow,

	core.NodeChartOutput: transformTerminal,
	core.NodeTableOutput: transformTerminal,
	core.NodeKPIOutput:   transformTerminal,
}

// TransformFor returns the transform for a node type.
func TransformFor(t core.NodeType) (Transform, bool) {
	fn, ok := transforms[t]
	return fn, ok
}

func columnSet(cols []core.Column) map[string]core.DType {
	m := make(map[string]core.DType, len(cols))
	for _, c := range cols {
		m[c.Name] = c.DType
	}
	return m
}

func requireColumn(cols []core.Column, name, context string) (core.Column, error) {
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	return core.Column{}, fmt.Errorf("%s references column %q not present in input schema", context, name)
}

func transformDataSource(node core.NodeSpec, _ [][]core.Column, lookup SchemaLookup) ([]core.Column, error) {
	var cfg core.DataSourceConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("data_source has no table configured")
	}
	if lookup == nil {
		return nil, fmt.Errorf("data_source requires a schema lookup")
	}
	cols, err := lookup(cfg.Database, cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("resolve table %s.%s: %w", cfg.Database, cfg.Table, err)
	}
	return cols, nil
}

// transformPassthrough covers row-count/order-only nodes.
func transformPassthrough(_ core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	return inputs[0], nil
}

func transformFilter(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.FilterConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	for _, cond := range cfg.Conditions {
		if _, err := requireColumn(inputs[0], cond.Column, "filter condition"); err != nil {
			return nil, err
		}
		if _, err := cond.Op.SQL(); err != nil {
			return nil, err
		}
	}
	return inputs[0], nil
}

func transformSort(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.SortConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("sort has no keys configured")
	}
	for _, key := range cfg.Keys {
		if _, err := requireColumn(inputs[0], key.Column, "sort key"); err != nil {
			return nil, err
		}
	}
	return inputs[0], nil
}

func transformSelect(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.SelectConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("select has no columns configured")
	}
	want := make(map[string]bool, len(cfg.Columns))
	for _, name := range cfg.Columns {
		if _, err := requireColumn(inputs[0], name, "select"); err != nil {
			return nil, err
		}
		want[name] = true
	}
	// Input order is preserved, not the configured order.
	var out []core.Column
	for _, c := range inputs[0] {
		if want[c.Name] {
			out = append(out, c)
		}
	}
	return out, nil
}

func transformRename(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.RenameConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	for old := range cfg.Mapping {
		if _, err := requireColumn(inputs[0], old, "rename"); err != nil {
			return nil, err
		}
	}
	out := make([]core.Column, len(inputs[0]))
	for i, c := range inputs[0] {
		if renamed, ok := cfg.Mapping[c.Name]; ok {
			c.Name = renamed
		}
		out[i] = c
	}
	return out, nil
}

func transformJoin(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.JoinConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	left, right := inputs[0], inputs[1]
	if _, err := requireColumn(left, cfg.LeftKey, "join left key"); err != nil {
		return nil, err
	}
	if _, err := requireColumn(right, cfg.RightKey, "join right key"); err != nil {
		return nil, err
	}
	suffix := cfg.Suffix
	if suffix == "" {
		suffix = "_right"
	}

	leftNames := columnSet(left)
	out := make([]core.Column, 0, len(left)+len(right))
	out = append(out, left...)
	for _, c := range right {
		if _, collides := leftNames[c.Name]; collides {
			c.Name = c.Name + suffix
		}
		out = append(out, c)
	}
	return out, nil
}

func transformUnion(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.UnionConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	left, right := inputs[0], inputs[1]
	rightTypes := columnSet(right)

	// Output keeps the column names present in both inputs, in left
	// input order. A shared name with differing types is an error.
	var out []core.Column
	for _, c := range left {
		rt, shared := rightTypes[c.Name]
		if !shared {
			continue
		}
		if rt != c.DType {
			return nil, fmt.Errorf("union column %q has mismatched types %s and %s", c.Name, c.DType, rt)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("union inputs share no column names")
	}
	return out, nil
}

func transformGroupBy(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.GroupByConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Aggregations) == 0 {
		return nil, fmt.Errorf("group_by has no aggregations configured")
	}

	var out []core.Column
	for _, key := range cfg.Keys {
		c, err := requireColumn(inputs[0], key, "group_by key")
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	for _, agg := range cfg.Aggregations {
		c, err := requireColumn(inputs[0], agg.Column, "aggregation")
		if err != nil {
			return nil, err
		}
		dtype, err := agg.Func.ResultType(c.DType)
		if err != nil {
			return nil, err
		}
		out = append(out, core.Column{Name: agg.OutputName(), DType: dtype})
	}
	return out, nil
}

func transformPivot(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.PivotConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.PivotValues) == 0 {
		return nil, fmt.Errorf("pivot has no pivot values configured")
	}
	if _, err := requireColumn(inputs[0], cfg.PivotColumn, "pivot column"); err != nil {
		return nil, err
	}
	aggCol, err := requireColumn(inputs[0], cfg.Aggregation.Column, "pivot aggregation")
	if err != nil {
		return nil, err
	}
	dtype, err := cfg.Aggregation.Func.ResultType(aggCol.DType)
	if err != nil {
		return nil, err
	}

	var out []core.Column
	for _, key := range cfg.Keys {
		c, err := requireColumn(inputs[0], key, "pivot key")
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	values := make([]string, len(cfg.PivotValues))
	copy(values, cfg.PivotValues)
	sort.Strings(values)
	for _, v := range values {
		out = append(out, core.Column{Name: v + "_" + cfg.Aggregation.OutputName(), DType: dtype})
	}
	return out, nil
}

func transformFormula(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.FormulaConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("formula has no output column name")
	}
	if !cfg.DType.Valid() {
		return nil, fmt.Errorf("formula declares unknown dtype %q", cfg.DType)
	}
	if _, exists := columnSet(inputs[0])[cfg.Name]; exists {
		return nil, fmt.Errorf("formula output %q collides with an input column", cfg.Name)
	}
	out := make([]core.Column, 0, len(inputs[0])+1)
	out = append(out, inputs[0]...)
	out = append(out, core.Column{Name: cfg.Name, DType: cfg.DType})
	return out, nil
}

func transformWindow(node core.NodeSpec, inputs [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	var cfg core.WindowConfig
	if err := core.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("window has no output column name")
	}
	if _, exists := columnSet(inputs[0])[cfg.Name]; exists {
		return nil, fmt.Errorf("window output %q collides with an input column", cfg.Name)
	}
	if len(cfg.OrderBy) == 0 {
		return nil, fmt.Errorf("window function %q requires an order_by", cfg.Func)
	}

	var argType core.DType
	if cfg.Func.NeedsColumn() {
		c, err := requireColumn(inputs[0], cfg.Column, "window argument")
		if err != nil {
			return nil, err
		}
		argType = c.DType
	}
	for _, p := range cfg.PartitionBy {
		if _, err := requireColumn(inputs[0], p, "window partition"); err != nil {
			return nil, err
		}
	}
	for _, key := range cfg.OrderBy {
		if _, err := requireColumn(inputs[0], key.Column, "window order"); err != nil {
			return nil, err
		}
	}

	dtype, err := cfg.Func.ResultType(argType)
	if err != nil {
		return nil, err
	}
	out := make([]core.Column, 0, len(inputs[0])+1)
	out = append(out, inputs[0]...)
	out = append(out, core.Column{Name: cfg.Name, DType: dtype})
	return out, nil
}

// transformTerminal marks output sinks: input is consumed, nothing is
// emitted downstream.
func transformTerminal(_ core.NodeSpec, _ [][]core.Column, _ SchemaLookup) ([]core.Column, error) {
	return nil, nil
}

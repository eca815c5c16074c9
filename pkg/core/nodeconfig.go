package core

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Typed views of NodeSpec.Config. The editor sends configs as loose
// JSON maps; DecodeConfig projects them onto these structs, ignoring
// presentation-only fields (node position, selection, styling) that
// must never influence compilation or cache identity.

// DataSourceConfig selects the catalog table a data_source node reads.
type DataSourceConfig struct {
	Database string `json:"database"`
	Table    string `json:"table"`
}

// FilterOp is a whitelisted comparison operator.
type FilterOp string

// Filter operators.
const (
	OpEq       FilterOp = "eq"
	OpNeq      FilterOp = "neq"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpContains FilterOp = "contains"
	OpIn       FilterOp = "in"
)

// SQL returns the SQL comparison operator, or an error for operators
// outside the whitelist. Operators are never taken from user input
// verbatim.
func (op FilterOp) SQL() (string, error) {
	switch op {
	case OpEq:
		return "=", nil
	case OpNeq:
		return "<>", nil
	case OpGt:
		return ">", nil
	case OpGte:
		return ">=", nil
	case OpLt:
		return "<", nil
	case OpLte:
		return "<=", nil
	case OpContains:
		return "LIKE", nil
	case OpIn:
		return "IN", nil
	}
	return "", fmt.Errorf("unknown filter operator %q", op)
}

// FilterCondition is one predicate of a filter node.
type FilterCondition struct {
	Column string   `json:"column"`
	Op     FilterOp `json:"op"`
	Value  any      `json:"value"`
}

// FilterConfig combines conditions with AND (default) or OR logic.
type FilterConfig struct {
	Conditions []FilterCondition `json:"conditions"`
	Logic      string            `json:"logic"`
}

// SelectConfig narrows the column list, order preserved from input.
type SelectConfig struct {
	Columns []string `json:"columns"`
}

// RenameConfig substitutes column names per the mapping.
type RenameConfig struct {
	Mapping map[string]string `json:"mapping"`
}

// SortKey orders by one column.
type SortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// SortConfig orders rows by the given keys in sequence.
type SortConfig struct {
	Keys []SortKey `json:"keys"`
}

// LimitConfig caps rows, optionally skipping an offset.
type LimitConfig struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
}

// SampleConfig keeps the first N rows.
type SampleConfig struct {
	Rows int `json:"rows"`
}

// JoinConfig combines two inputs on one key per side.
type JoinConfig struct {
	Type     string `json:"type"` // inner, left, right, full
	LeftKey  string `json:"left_key"`
	RightKey string `json:"right_key"`

	// Suffix disambiguates right-side columns that collide with a
	// left-side name. Defaults to "_right".
	Suffix string `json:"suffix"`
}

// UnionConfig stacks two inputs with matching column names.
type UnionConfig struct {
	// All keeps duplicate rows (UNION ALL).
	All bool `json:"all"`
}

// AggFunc is a whitelisted aggregate function.
type AggFunc string

// Aggregate functions.
const (
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
	AggCount AggFunc = "count"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// ResultType returns the output dtype for the aggregate given the
// dtype of the aggregated column.
func (f AggFunc) ResultType(input DType) (DType, error) {
	switch f {
	case AggSum, AggAvg:
		return TypeFloat64, nil
	case AggCount:
		return TypeInt64, nil
	case AggMin, AggMax:
		return input, nil
	}
	return "", fmt.Errorf("unknown aggregate function %q", f)
}

// SQL returns the SQL function name.
func (f AggFunc) SQL() (string, error) {
	switch f {
	case AggSum:
		return "SUM", nil
	case AggAvg:
		return "AVG", nil
	case AggCount:
		return "COUNT", nil
	case AggMin:
		return "MIN", nil
	case AggMax:
		return "MAX", nil
	}
	return "", fmt.Errorf("unknown aggregate function %q", f)
}

// Aggregation is one aggregate output column of a group_by or pivot.
type Aggregation struct {
	Column string  `json:"column"`
	Func   AggFunc `json:"func"`
	Alias  string  `json:"alias"`
}

// OutputName returns the alias, or func_column when none is set.
func (a Aggregation) OutputName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return string(a.Func) + "_" + a.Column
}

// GroupByConfig groups by key columns and emits one column per
// aggregation.
type GroupByConfig struct {
	Keys         []string      `json:"keys"`
	Aggregations []Aggregation `json:"aggregations"`
}

// PivotConfig spreads one aggregation across the distinct values of a
// pivot column.
type PivotConfig struct {
	Keys        []string    `json:"keys"`
	PivotColumn string      `json:"pivot_column"`
	PivotValues []string    `json:"pivot_values"`
	Aggregation Aggregation `json:"aggregation"`
}

// FormulaConfig adds one computed column with a declared dtype.
type FormulaConfig struct {
	Name       string `json:"name"`
	DType      DType  `json:"dtype"`
	Expression string `json:"expression"`
}

// WindowFunc is a whitelisted window function.
type WindowFunc string

// Window functions.
const (
	WinRowNumber WindowFunc = "row_number"
	WinRank      WindowFunc = "rank"
	WinDenseRank WindowFunc = "dense_rank"
	WinLag       WindowFunc = "lag"
	WinLead      WindowFunc = "lead"
	WinSum       WindowFunc = "sum"
	WinAvg       WindowFunc = "avg"
)

// ResultType returns the output dtype for the window function given
// the dtype of its argument column (zero Column for rank-style
// functions that take none).
func (f WindowFunc) ResultType(arg DType) (DType, error) {
	switch f {
	case WinRowNumber, WinRank, WinDenseRank:
		return TypeInt64, nil
	case WinLag, WinLead:
		return arg, nil
	case WinSum, WinAvg:
		return TypeFloat64, nil
	}
	return "", fmt.Errorf("unknown window function %q", f)
}

// NeedsColumn reports whether the function takes a column argument.
func (f WindowFunc) NeedsColumn() bool {
	switch f {
	case WinRowNumber, WinRank, WinDenseRank:
		return false
	}
	return true
}

// WindowConfig adds one window-function column.
type WindowConfig struct {
	Name        string     `json:"name"`
	Func        WindowFunc `json:"func"`
	Column      string     `json:"column"`
	PartitionBy []string   `json:"partition_by"`
	OrderBy     []SortKey  `json:"order_by"`
}

// presentationFields are canvas-only config keys with no effect on
// results. They are stripped before hashing and before decode so a
// node move never invalidates cache.
var presentationFields = map[string]bool{
	"position": true, "x": true, "y": true,
	"width": true, "height": true,
	"selected": true, "collapsed": true,
	"color": true, "title": true, "notes": true,
}

// CanonicalConfig returns cfg with presentation-only fields removed.
// The input map is not modified.
func CanonicalConfig(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if presentationFields[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// DecodeConfig projects a node's loose config map onto a typed config
// struct. Unknown keys are ignored; type mismatches error.
func DecodeConfig(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(CanonicalConfig(cfg)); err != nil {
		return fmt.Errorf("decode node config: %w", err)
	}
	return nil
}

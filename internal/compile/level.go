package compile

import (
	"fmt"
	"strings"
)

// A level is one emitted SQL query. A run of mergeable nodes
// accumulates clauses on a single open level; a merge-boundary node
// seals the accumulated level into a subquery and opens a new one
// around it.
type level struct {
	distinct bool

	// star renders SELECT *; outputs is still tracked for reference
	// resolution either way.
	star    bool
	outputs []outCol

	from source

	where   []predGroup
	having  []predGroup
	groupBy []string
	orderBy []orderKey
	limit   int // -1 unset
	offset  int // -1 unset

	// aggregated levels route later filters to HAVING; windowed
	// levels cannot take filters at all and force a wrap.
	aggregated bool
	windowed   bool
}

// outCol is one ordered output column of a level: its visible name and
// the source expression producing it. Args carries literal operands
// embedded in the expression as {{arg}} markers; the writer binds them
// as parameters at render time so placeholder numbering stays in
// appearance order.
type outCol struct {
	Name string
	Expr string
	Args []any
}

// predGroup is the condition set contributed by one filter node,
// combined internally with its configured logic and conjoined with
// other groups by AND.
type predGroup struct {
	logic string // "AND" or "OR"
	conds []cond
}

// cond is a single comparison whose literal operands are always bound
// parameters.
type cond struct {
	expr   string // left-hand expression, already validated
	op     string // SQL operator from the whitelist
	values []any  // one value, or many for IN
	isIn   bool
	isLike bool
}

type orderKey struct {
	expr       string
	descending bool
}

// source is the FROM clause of a level.
type source interface{ isSource() }

// tableSrc is a physical table reference resolved through the registry.
type tableSrc struct {
	rendered string // quoted, possibly database-qualified name
}

// subqSrc wraps a sealed level as a derived table.
type subqSrc struct {
	q     *level
	alias string
}

// joinSrc joins two sealed sides.
type joinSrc struct {
	left, right           source
	leftAlias, rightAlias string
	joinType              string // "INNER JOIN" etc.
	onLeft, onRight       string // quoted key columns
}

// unionSrc stacks two sealed levels with aligned projections.
type unionSrc struct {
	left, right *level
	all         bool
	alias       string
}

func (tableSrc) isSource() {}
func (subqSrc) isSource()  {}
func (joinSrc) isSource()  {}
func (unionSrc) isSource() {}

func newLevel(from source, outputs []outCol) *level {
	return &level{
		star:    true,
		outputs: outputs,
		from:    from,
		limit:   -1,
		offset:  -1,
	}
}

// output resolves a visible column name on this level.
func (q *level) output(name string) (outCol, bool) {
	for _, c := range q.outputs {
		if c.Name == name {
			return c, true
		}
	}
	return outCol{}, false
}

// trivial reports whether sealing this level as a subquery would wrap
// nothing: a bare SELECT * over a physical table. Trivial levels
// collapse to the table reference itself instead of nesting.
func (q *level) trivial() bool {
	_, isTable := q.from.(tableSrc)
	return isTable && q.star && !q.distinct &&
		len(q.where) == 0 && len(q.having) == 0 &&
		len(q.groupBy) == 0 && len(q.orderBy) == 0 &&
		q.limit < 0 && q.offset < 0
}

// seal turns the level into a FROM source for the next level. Trivial
// levels collapse to their table.
func (q *level) seal(alias string) source {
	if q.trivial() {
		return q.from
	}
	return subqSrc{q: q, alias: alias}
}

// plainOutputs rebuilds an output list where every column is referenced
// by its bare quoted name, for levels that read from a sealed subquery.
func plainOutputs(cols []outCol) []outCol {
	out := make([]outCol, len(cols))
	for i, c := range cols {
		out[i] = outCol{Name: c.Name, Expr: quoteIdent(c.Name)}
	}
	return out
}

// materialize switches a star level to an explicit projection so
// renames and column drops can be applied.
func (q *level) materialize() {
	if !q.star {
		return
	}
	q.star = false
	q.outputs = append([]outCol(nil), q.outputs...)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteTable(database, table string) string {
	if database == "" {
		return quoteIdent(table)
	}
	return quoteIdent(database) + "." + quoteIdent(table)
}

func joinTypeSQL(t string) (string, error) {
	switch strings.ToLower(t) {
	case "", "inner":
		return "INNER JOIN", nil
	case "left":
		return "LEFT JOIN", nil
	case "right":
		return "RIGHT JOIN", nil
	case "full":
		return "FULL JOIN", nil
	}
	return "", fmt.Errorf("unknown join type %q", t)
}

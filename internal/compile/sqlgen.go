package compile

import (
	"strconv"
	"strings"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// writer renders a level tree into canonical SQL text, collecting bound
// parameters in order of appearance. The rendering is fully ordered, so
// equal inputs always produce byte-identical text.
type writer struct {
	b      strings.Builder
	family core.StoreFamily
	params []any
}

func newWriter(family core.StoreFamily) *writer {
	return &writer{family: family}
}

// bind appends a parameter and returns its placeholder.
func (w *writer) bind(v any) string {
	w.params = append(w.params, v)
	return w.family.Placeholder(len(w.params))
}

func (w *writer) writeLevel(q *level) {
	w.b.WriteString("SELECT ")
	if q.distinct {
		w.b.WriteString("DISTINCT ")
	}
	if q.star {
		w.b.WriteString("*")
	} else {
		for i, c := range q.outputs {
			if i > 0 {
				w.b.WriteString(", ")
			}
			w.writeExpr(c.Expr, c.Args)
			if c.Expr != quoteIdent(c.Name) {
				w.b.WriteString(" AS ")
				w.b.WriteString(quoteIdent(c.Name))
			}
		}
	}

	w.b.WriteString(" FROM ")
	w.writeSource(q.from)

	if len(q.where) > 0 {
		w.b.WriteString(" WHERE ")
		w.writeGroups(q.where)
	}
	if len(q.groupBy) > 0 {
		w.b.WriteString(" GROUP BY ")
		w.b.WriteString(strings.Join(q.groupBy, ", "))
	}
	if len(q.having) > 0 {
		w.b.WriteString(" HAVING ")
		w.writeGroups(q.having)
	}
	if len(q.orderBy) > 0 {
		w.b.WriteString(" ORDER BY ")
		for i, k := range q.orderBy {
			if i > 0 {
				w.b.WriteString(", ")
			}
			w.b.WriteString(k.expr)
			if k.descending {
				w.b.WriteString(" DESC")
			}
		}
	}
	if q.limit >= 0 {
		w.b.WriteString(" LIMIT ")
		w.b.WriteString(strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		w.b.WriteString(" OFFSET ")
		w.b.WriteString(strconv.Itoa(q.offset))
	}
}

// writeExpr renders an output expression, binding each {{arg}} marker
// to the next carried literal.
func (w *writer) writeExpr(expr string, args []any) {
	if len(args) == 0 {
		w.b.WriteString(expr)
		return
	}
	parts := strings.Split(expr, "{{arg}}")
	for i, part := range parts {
		w.b.WriteString(part)
		if i < len(parts)-1 && i < len(args) {
			w.b.WriteString(w.bind(args[i]))
		}
	}
}

func (w *writer) writeSource(s source) {
	switch src := s.(type) {
	case tableSrc:
		w.b.WriteString(src.rendered)
	case subqSrc:
		w.b.WriteString("(")
		w.writeLevel(src.q)
		w.b.WriteString(") AS ")
		w.b.WriteString(src.alias)
	case joinSrc:
		w.writeJoinSide(src.left, src.leftAlias)
		w.b.WriteString(" ")
		w.b.WriteString(src.joinType)
		w.b.WriteString(" ")
		w.writeJoinSide(src.right, src.rightAlias)
		w.b.WriteString(" ON ")
		w.b.WriteString(src.leftAlias + "." + src.onLeft)
		w.b.WriteString(" = ")
		w.b.WriteString(src.rightAlias + "." + src.onRight)
	case unionSrc:
		w.b.WriteString("((")
		w.writeLevel(src.left)
		w.b.WriteString(") UNION ")
		if src.all {
			w.b.WriteString("ALL ")
		}
		w.b.WriteString("(")
		w.writeLevel(src.right)
		w.b.WriteString(")) AS ")
		w.b.WriteString(src.alias)
	}
}

// writeJoinSide renders one side of a join with its alias. Collapsed
// tables get the alias too so qualified references stay valid.
func (w *writer) writeJoinSide(s source, alias string) {
	switch src := s.(type) {
	case tableSrc:
		w.b.WriteString(src.rendered)
		w.b.WriteString(" AS ")
		w.b.WriteString(alias)
	case subqSrc:
		w.b.WriteString("(")
		w.writeLevel(src.q)
		w.b.WriteString(") AS ")
		w.b.WriteString(alias)
	default:
		w.writeSource(s)
	}
}

func (w *writer) writeGroups(groups []predGroup) {
	for i, g := range groups {
		if i > 0 {
			w.b.WriteString(" AND ")
		}
		if len(groups) > 1 && len(g.conds) > 1 {
			w.b.WriteString("(")
		}
		for j, c := range g.conds {
			if j > 0 {
				w.b.WriteString(" " + g.logic + " ")
			}
			w.writeCond(c)
		}
		if len(groups) > 1 && len(g.conds) > 1 {
			w.b.WriteString(")")
		}
	}
}

func (w *writer) writeCond(c cond) {
	w.b.WriteString(c.expr)
	w.b.WriteString(" ")
	w.b.WriteString(c.op)
	w.b.WriteString(" ")
	if c.isIn {
		w.b.WriteString("(")
		for i, v := range c.values {
			if i > 0 {
				w.b.WriteString(", ")
			}
			w.b.WriteString(w.bind(v))
		}
		w.b.WriteString(")")
		return
	}
	w.b.WriteString(w.bind(c.values[0]))
}

// render produces the final SQL text and the ordered parameter list.
func render(q *level, family core.StoreFamily) (string, []any) {
	w := newWriter(family)
	w.writeLevel(q)
	return w.b.String(), w.params
}

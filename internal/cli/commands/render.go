package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// renderResultSet prints a result set in the requested format.
func renderResultSet(w io.Writer, rs *core.ResultSet, format string) error {
	switch format {
	case "json":
		return writeJSONValue(w, rs)
	case "csv":
		return renderCSV(w, rs)
	case "md", "markdown":
		return renderMarkdown(w, rs)
	default:
		return renderTable(w, rs)
	}
}

func renderTable(w io.Writer, rs *core.ResultSet) error {
	if len(rs.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(rs.Columns))
	for i, col := range rs.Columns {
		headerRow[i] = col.Name
	}
	t.AppendHeader(headerRow)

	for _, r := range rs.Rows {
		row := make(table.Row, len(rs.Columns))
		for i := range rs.Columns {
			row[i] = formatValue(cell(r, i))
		}
		t.AppendRow(row)
	}

	t.Render()
	suffix := ""
	if rs.Truncated {
		suffix = ", truncated"
	}
	_, _ = fmt.Fprintf(w, "(%d rows%s)\n", len(rs.Rows), suffix)
	return nil
}

func renderCSV(w io.Writer, rs *core.ResultSet) error {
	names := make([]string, len(rs.Columns))
	for i, col := range rs.Columns {
		names[i] = col.Name
	}
	_, _ = fmt.Fprintln(w, strings.Join(names, ","))

	for _, r := range rs.Rows {
		values := make([]string, len(rs.Columns))
		for i := range rs.Columns {
			values[i] = escapeCSV(formatValue(cell(r, i)))
		}
		_, _ = fmt.Fprintln(w, strings.Join(values, ","))
	}
	return nil
}

func renderMarkdown(w io.Writer, rs *core.ResultSet) error {
	if len(rs.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	names := make([]string, len(rs.Columns))
	seps := make([]string, len(rs.Columns))
	for i, col := range rs.Columns {
		names[i] = col.Name
		seps[i] = "---"
	}
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(names, " | "))
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))

	for _, r := range rs.Rows {
		values := make([]string, len(rs.Columns))
		for i := range rs.Columns {
			values[i] = formatValue(cell(r, i))
		}
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(values, " | "))
	}
	return nil
}

// cell guards against ragged rows from a misbehaving store.
func cell(row []any, i int) any {
	if i < len(row) {
		return row[i]
	}
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func writeJSONValue(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// asExecutionError is errors.As with a friendlier call site.
func asExecutionError(err error, target **core.ExecutionError) bool {
	return errors.As(err, target)
}

// executionFailure turns a typed execution error into a CLI failure
// carrying the user-facing hint.
func executionFailure(ee *core.ExecutionError) error {
	return fmt.Errorf("%s (store %s): %s", ee.Kind, ee.Store, ee.Reason())
}

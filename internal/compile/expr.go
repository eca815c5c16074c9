package compile

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// formulaFuncs is the whitelist of scalar functions a formula
// expression may call.
var formulaFuncs = map[string]bool{
	"abs": true, "round": true, "floor": true, "ceil": true,
	"coalesce": true, "upper": true, "lower": true, "length": true,
	"cast": true,
}

// validateFormula checks a formula expression against a conservative
// token grammar: column references from the input schema, numeric
// literals, arithmetic operators, parentheses, and whitelisted function
// names. String literals, quoting, and statement punctuation are
// rejected outright; a formula must never be able to alter the shape
// of the emitted statement.
//
// Returns the expression rewritten with column references quoted.
func validateFormula(expr string, inputs []core.Column) (string, error) {
	known := make(map[string]core.DType, len(inputs))
	for _, c := range inputs {
		known[c.Name] = c.DType
	}

	var out strings.Builder
	runes := []rune(expr)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			out.WriteRune(' ')
			i++
		case r == '(' || r == ')' || r == ',' ||
			r == '+' || r == '-' || r == '*' || r == '/' || r == '%':
			out.WriteRune(r)
			i++
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			out.WriteString(string(runes[start:i]))
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])

			// A word followed by '(' is a function call; anything
			// else must be an input column.
			j := i
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			if j < len(runes) && runes[j] == '(' {
				lower := strings.ToLower(word)
				if !formulaFuncs[lower] {
					return "", fmt.Errorf("formula calls unsupported function %q", word)
				}
				out.WriteString(strings.ToUpper(lower))
				continue
			}
			if _, ok := known[word]; !ok {
				// CAST target types pass through.
				switch strings.ToLower(word) {
				case "as", "integer", "bigint", "double", "varchar", "boolean":
					out.WriteString(strings.ToUpper(word))
					continue
				}
				return "", fmt.Errorf("formula references column %q not present in input schema", word)
			}
			out.WriteString(quoteIdent(word))
		default:
			return "", fmt.Errorf("formula contains unsupported character %q", string(r))
		}
	}

	rewritten := strings.TrimSpace(out.String())
	if rewritten == "" {
		return "", fmt.Errorf("formula expression is empty")
	}
	return rewritten, nil
}

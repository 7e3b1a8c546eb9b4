package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PaesslerAG/gval"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// renderTemplate evaluates every {{ expr }} span in expression against root
// via gval and substitutes its result. A template consisting of exactly one
// full-string placeholder returns the evaluated value directly rather than
// its stringified form, so a bare "{{ value }}" preserves structure instead
// of forcing a string round-trip.
func renderTemplate(expression string, root map[string]any) (any, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(expression, -1)
	if len(matches) == 0 {
		return expression, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(expression) {
		exprText := expression[matches[0][2]:matches[0][3]]
		return gval.Evaluate(exprText, root)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(expression[last:m[0]])
		exprText := expression[m[2]:m[3]]
		val, err := gval.Evaluate(exprText, root)
		if err != nil {
			return nil, err
		}
		sb.WriteString(fmt.Sprint(val))
		last = m[1]
	}
	sb.WriteString(expression[last:])
	return sb.String(), nil
}

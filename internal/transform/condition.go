package transform

import (
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
)

// EvaluateCondition evaluates guard against ctx, accepting the three shapes
// spec.md §4.G allows: a full template expression ("{{ ... }}"), a JSONPath
// rooted at "$" (truthy if it matches anything), or a bare comparison
// expression evaluated directly against ctx's variables.
func EvaluateCondition(guard string, ctx map[string]any) (bool, error) {
	trimmed := strings.TrimSpace(guard)
	switch {
	case strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}"):
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		return evalTruthy(inner, ctx)
	case strings.HasPrefix(trimmed, "$"):
		result, err := jsonpath.Get(trimmed, ctx)
		if err != nil {
			// no match along this path is "false", not a failure.
			return false, nil
		}
		return isTruthy(result), nil
	default:
		return evalTruthy(trimmed, ctx)
	}
}

func evalTruthy(expr string, ctx map[string]any) (bool, error) {
	result, err := gval.Evaluate(expr, ctx)
	if err != nil {
		return false, fmt.Errorf("transform: condition %q: %w", expr, err)
	}
	return isTruthy(result), nil
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

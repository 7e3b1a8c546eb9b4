// Package transform implements the parameter transformer: the optional
// per-node rewrite of a resolved argument structure, and condition
// evaluation for conditional branches and while-loops.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
)

// Engine selects how Apply interprets expression.
type Engine string

const (
	EngineNone     Engine = "none"
	EngineJSONPath Engine = "jsonpath"
	EngineTemplate Engine = "template"
)

// Apply rewrites value according to engine and expression. ctx carries
// {inputs, outputs, loop_vars} per spec.md §4.G; value is additionally
// bound into the evaluation root under "value" so expressions can refer to
// the argument structure being transformed.
func Apply(engine Engine, expression string, value any, ctx map[string]any) (any, error) {
	switch engine {
	case "", EngineNone:
		return value, nil
	case EngineJSONPath:
		root := mergeContext(value, ctx)
		out, err := jsonpath.Get(expression, root)
		if err != nil {
			return nil, fmt.Errorf("transform: jsonpath %q: %w", expression, err)
		}
		return out, nil
	case EngineTemplate:
		root := mergeContext(value, ctx)
		rendered, err := renderTemplate(expression, root)
		if err != nil {
			return nil, fmt.Errorf("transform: template %q: %w", expression, err)
		}
		return coerceJSONLike(rendered), nil
	default:
		return nil, fmt.Errorf("transform: unknown engine %q", engine)
	}
}

func mergeContext(value any, ctx map[string]any) map[string]any {
	root := make(map[string]any, len(ctx)+1)
	for k, v := range ctx {
		root[k] = v
	}
	root["value"] = value
	return root
}

// coerceJSONLike parses a rendered string back into structured data when it
// is valid JSON, per spec.md §4.G ("string results that look like JSON are
// parsed back into structured values"); anything else passes through as-is.
func coerceJSONLike(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return v
	}
	return parsed
}

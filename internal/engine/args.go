package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// resolveArgsTemplate deep-walks a node's args_template, resolving each leaf
// string placeholder per spec.md §4.H:
//
//	$inputs.<dotted.path>   -> nested lookup in the run's inputs
//	$loop.<var>             -> lookup in loop_vars
//	@<step_id>.outputs.<dotted.path> -> nested lookup in node_outputs[step_id]
//
// Anything else, and any non-string leaf, passes through untouched.
func resolveArgsTemplate(tmpl map[string]any, rs *runState) (map[string]any, error) {
	resolved, err := resolveValue(tmpl, rs)
	if err != nil {
		return nil, err
	}
	out, _ := resolved.(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func resolveValue(v any, rs *runState) (any, error) {
	switch t := v.(type) {
	case string:
		return resolveLeaf(t, rs)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			resolvedChild, err := resolveValue(child, rs)
			if err != nil {
				return nil, err
			}
			out[k] = resolvedChild
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			resolvedChild, err := resolveValue(child, rs)
			if err != nil {
				return nil, err
			}
			out[i] = resolvedChild
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveLeaf(s string, rs *runState) (any, error) {
	switch {
	case strings.HasPrefix(s, "$inputs."):
		rs.mu.Lock()
		inputs := rs.inputs
		rs.mu.Unlock()
		return lookupPath(inputs, strings.TrimPrefix(s, "$inputs."))
	case strings.HasPrefix(s, "$loop."):
		rs.mu.Lock()
		loopVars := rs.loopVars
		rs.mu.Unlock()
		return lookupPath(loopVars, strings.TrimPrefix(s, "$loop."))
	case strings.HasPrefix(s, "@"):
		rest := s[1:]
		dot := strings.Index(rest, ".outputs.")
		if dot < 0 {
			return s, nil
		}
		stepID := rest[:dot]
		path := rest[dot+len(".outputs."):]
		output := rs.nodeOutput(stepID)
		return lookupPath(output, path)
	default:
		return s, nil
	}
}

// lookupPath resolves a dotted path against nested maps/slices. A slice
// segment must be a base-10 integer index; anything unresolvable returns an
// error naming the offending segment.
func lookupPath(root any, path string) (any, error) {
	if path == "" {
		return root, nil
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("engine: path segment %q not found", seg)
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("engine: invalid array index %q", seg)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("engine: cannot descend into %q on non-container value", seg)
		}
	}
	return cur, nil
}

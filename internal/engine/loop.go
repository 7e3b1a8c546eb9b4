package engine

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/skillflow/skillflow/internal/skill"
	"github.com/skillflow/skillflow/internal/transform"
)

// loopIteration is one pass of a loop node's trace, per spec.md §4.H
// ("Returns the full per-iteration trace").
type loopIteration struct {
	Index   int                   `json:"index"`
	Results []skill.NodeExecution `json:"results"`
}

// dispatchLoop runs a loop node's body in-line across its three shapes, all
// subject to a hard max_iterations cap. loop_vars is cleared on exit.
func (e *Engine) dispatchLoop(ctx context.Context, sk skill.Skill, node skill.SkillNode, rs *runState) (any, error) {
	if node.Loop == nil {
		return nil, fmt.Errorf("engine: loop node %q missing loop spec", node.ID)
	}
	spec := node.Loop
	maxIter := spec.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	defer rs.clearLoopVars()

	var iterations []loopIteration
	switch spec.Shape {
	case skill.LoopFor:
		items, err := resolveForCollection(spec.Collection, rs)
		if err != nil {
			return nil, fmt.Errorf("engine: loop %q: %w", node.ID, err)
		}
		for idx, item := range items {
			if idx >= maxIter || rs.isStopped() {
				break
			}
			iterationVar := spec.IterationVar
			if iterationVar == "" {
				iterationVar = "value"
			}
			rs.setLoopVars(map[string]any{iterationVar: item, "index": idx})
			results, err := e.runChildNodes(ctx, sk, spec.BodyNodeIDs, rs)
			if err != nil {
				return nil, err
			}
			iterations = append(iterations, loopIteration{Index: idx, Results: results})
		}

	case skill.LoopWhile:
		for idx := 0; idx < maxIter; idx++ {
			if rs.isStopped() {
				break
			}
			evalCtx := rs.evalContext()
			ok, err := transform.EvaluateCondition(spec.Condition, evalCtx)
			if err != nil {
				return nil, fmt.Errorf("engine: loop %q condition: %w", node.ID, err)
			}
			if !ok {
				break
			}
			rs.setLoopVars(map[string]any{"index": idx})
			results, err := e.runChildNodes(ctx, sk, spec.BodyNodeIDs, rs)
			if err != nil {
				return nil, err
			}
			iterations = append(iterations, loopIteration{Index: idx, Results: results})
		}

	case skill.LoopForRange:
		step := spec.RangeStep
		if step == 0 {
			step = 1
		}
		iterationVar := spec.IterationVar
		if iterationVar == "" {
			iterationVar = "value"
		}
		idx := 0
		for i := spec.RangeStart; (step > 0 && i < spec.RangeEnd) || (step < 0 && i > spec.RangeEnd); i += step {
			if idx >= maxIter || rs.isStopped() {
				break
			}
			rs.setLoopVars(map[string]any{"index": idx, iterationVar: i})
			results, err := e.runChildNodes(ctx, sk, spec.BodyNodeIDs, rs)
			if err != nil {
				return nil, err
			}
			iterations = append(iterations, loopIteration{Index: idx, Results: results})
			idx++
		}

	default:
		return nil, fmt.Errorf("engine: unknown loop shape %q", spec.Shape)
	}

	return map[string]any{"iterations": iterations}, nil
}

func resolveForCollection(path string, rs *runState) ([]any, error) {
	evalCtx := rs.evalContext()
	v, err := jsonpath.Get(path, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", path, err)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("collection %q did not resolve to an array", path)
	}
	return items, nil
}

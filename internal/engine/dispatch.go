package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/skillflow/skillflow/internal/skill"
	"github.com/skillflow/skillflow/internal/transform"
	"github.com/skillflow/skillflow/internal/util"
)

// maxNodeErrorRunes bounds how much of an upstream error (which can carry
// a full subprocess stderr dump) gets written into a node's run-log
// record. The run log persists every node execution, so an unbounded
// error string from a misbehaving upstream would grow the log file
// without bound across repeated failures.
const maxNodeErrorRunes = 2000

// executeNode runs one node to completion (including retry attempts for
// error_strategy=retry) and returns the NodeExecution record to append to
// the run log. It never returns a Go error for an ordinary node failure —
// failure is represented in the returned record's Status/Error fields, so
// the caller can apply scheduling policy uniformly.
func (e *Engine) executeNode(ctx context.Context, sk skill.Skill, node skill.SkillNode, rs *runState) skill.NodeExecution {
	rs.setStatus(node.ID, skill.StatusRunning)
	started := time.Now()

	args, err := resolveArgsTemplate(node.ArgsTemplate, rs)
	if err == nil && node.ParameterTransform != nil {
		var transformed any
		transformed, err = transform.Apply(transform.Engine(node.ParameterTransform.Engine), node.ParameterTransform.Expression, args, rs.evalContext())
		if err == nil {
			if m, ok := transformed.(map[string]any); ok {
				args = m
			}
		}
	}

	var output any
	if err == nil {
		output, err = e.runOnce(ctx, sk, node, args, rs)
	}

	if err != nil && node.ErrorStrategy == skill.ErrorRetry && node.Retry != nil {
		output, err = e.retryNode(ctx, sk, node, args, rs, err)
	}

	ended := time.Now()
	ne := skill.NodeExecution{
		RunID:     rs.runID,
		SkillID:   rs.skillID,
		Version:   rs.version,
		NodeID:    node.ID,
		StartedAt: started,
		EndedAt:   &ended,
		Args:      args,
	}

	if err != nil {
		rs.setStatus(node.ID, skill.StatusFailed)
		ne.Status = skill.StatusFailed
		ne.Error = util.TruncateRunes(err.Error(), maxNodeErrorRunes)
		if node.ErrorStrategy == skill.ErrorFailFast {
			rs.stop(fmt.Errorf("engine: node %q: %w", node.ID, err))
		}
		return ne
	}

	rs.setStatus(node.ID, skill.StatusSuccess)
	rs.setNodeOutput(node.ID, output)
	ne.Status = skill.StatusSuccess
	ne.Output = output

	if len(node.ExportOutputs) > 0 {
		exported, exportErr := exportNodeOutputs(node.ExportOutputs, output)
		if exportErr != nil {
			ne.Error = util.TruncateRunes(exportErr.Error(), maxNodeErrorRunes)
		} else {
			rs.mergeOutputs(exported)
		}
	}
	return ne
}

// runOnce dispatches a single attempt by node kind.
func (e *Engine) runOnce(ctx context.Context, sk skill.Skill, node skill.SkillNode, args map[string]any, rs *runState) (any, error) {
	if node.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	switch node.Kind {
	case skill.KindToolCall:
		return e.dispatchToolCall(ctx, node, args)
	case skill.KindSkillCall:
		return e.dispatchSkillCall(ctx, node, args)
	case skill.KindConditional:
		return e.dispatchConditional(ctx, sk, node, rs, args)
	case skill.KindLoop:
		return e.dispatchLoop(ctx, sk, node, rs)
	default:
		return nil, fmt.Errorf("engine: unknown node kind %q", node.Kind)
	}
}

func (e *Engine) dispatchToolCall(ctx context.Context, node skill.SkillNode, args map[string]any) (any, error) {
	if node.ServerID == "" || node.Tool == "" {
		return nil, fmt.Errorf("engine: tool_call node %q missing server_id/tool", node.ID)
	}
	client, err := e.tools.Get(ctx, node.ServerID)
	if err != nil {
		return nil, fmt.Errorf("engine: connect %q: %w", node.ServerID, err)
	}
	text, err := client.CallTool(ctx, node.Tool, args)
	if err != nil {
		return nil, fmt.Errorf("engine: call %s.%s: %w", node.ServerID, node.Tool, err)
	}
	return parseToolResult(text), nil
}

func (e *Engine) dispatchSkillCall(ctx context.Context, node skill.SkillNode, args map[string]any) (any, error) {
	if node.SkillID == "" {
		return nil, fmt.Errorf("engine: skill_call node %q missing skill_id", node.ID)
	}
	nested, err := e.skills.LoadSkill(node.SkillID)
	if err != nil {
		return nil, fmt.Errorf("engine: load nested skill %q: %w", node.SkillID, err)
	}
	result, err := e.RunSkill(ctx, nested, args)
	if err != nil {
		return nil, fmt.Errorf("engine: run nested skill %q: %w", node.SkillID, err)
	}
	return map[string]any{
		"run_id":  result.RunID,
		"status":  result.Status,
		"outputs": result.Outputs,
	}, nil
}

func (e *Engine) dispatchConditional(ctx context.Context, sk skill.Skill, node skill.SkillNode, rs *runState, args map[string]any) (any, error) {
	if node.Conditional == nil {
		return nil, fmt.Errorf("engine: conditional node %q missing conditional spec", node.ID)
	}
	evalCtx := rs.evalContext()
	evalCtx["args"] = args

	branchNodes := node.Conditional.DefaultBranch
	executedBranch := -1
	for i, branch := range node.Conditional.Branches {
		ok, err := transform.EvaluateCondition(branch.Guard, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("engine: conditional %q branch %d: %w", node.ID, i, err)
		}
		if ok {
			branchNodes = branch.NodeIDs
			executedBranch = i
			break
		}
	}

	results, err := e.runChildNodes(ctx, sk, branchNodes, rs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"branch_executed": executedBranch, "results": results}, nil
}

// runChildNodes executes an ordered list of node ids in-line (conditional
// branches and loop bodies execute as if they were child nodes of the
// enclosing dispatch, per spec.md §4.H).
func (e *Engine) runChildNodes(ctx context.Context, sk skill.Skill, nodeIDs []string, rs *runState) ([]skill.NodeExecution, error) {
	byID := nodeIndex(sk)
	results := make([]skill.NodeExecution, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if rs.isStopped() {
			break
		}
		node, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("engine: unknown child node id %q", id)
		}
		ne := e.executeNode(ctx, sk, node, rs)
		rs.recordExecution(ne)
		results = append(results, ne)
		if ne.Status == skill.StatusFailed && node.ErrorStrategy == skill.ErrorFailFast {
			break
		}
	}
	return results, nil
}

func nodeIndex(sk skill.Skill) map[string]skill.SkillNode {
	idx := make(map[string]skill.SkillNode, len(sk.Graph.Nodes))
	for _, n := range sk.Graph.Nodes {
		idx[n.ID] = n
	}
	return idx
}

// exportNodeOutputs extracts JSONPath slices from a node's output into
// named context.outputs entries, per spec.md's export_outputs mapping.
// Paths are evaluated directly against output (e.g. "$.result" reaches
// output["result"]), matching the original engine's
// _extract_jsonpath(result, path) semantics.
func exportNodeOutputs(exports map[string]string, output any) (map[string]any, error) {
	out := make(map[string]any, len(exports))
	for name, path := range exports {
		v, err := jsonpath.Get(path, output)
		if err != nil {
			return nil, fmt.Errorf("engine: export_outputs %q (%s): %w", name, path, err)
		}
		out[name] = v
	}
	return out, nil
}

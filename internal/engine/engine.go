// Package engine implements the skill DAG execution engine — scheduling,
// node dispatch, argument resolution, error-strategy handling, and run-log
// persistence described by spec.md §4.H.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillflow/skillflow/internal/skill"
	"github.com/skillflow/skillflow/internal/upstream"
)

const defaultMaxParallel = 32

// toolClient is the subset of *upstream.Client a dispatched tool_call needs.
type toolClient interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// toolCaller is the subset of *upstream.Manager the engine needs to invoke
// tool_call nodes.
type toolCaller interface {
	Get(ctx context.Context, serverID string) (toolClient, error)
}

// managerAdapter lets *upstream.Manager (which returns the concrete
// *upstream.Client) satisfy toolCaller, so engine tests can substitute a
// fake toolClient without depending on upstream's internals.
type managerAdapter struct{ m *upstream.Manager }

func (a managerAdapter) Get(ctx context.Context, serverID string) (toolClient, error) {
	client, err := a.m.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewWithManager builds an Engine over a real *upstream.Manager and
// *skill.Manager, the construction callers outside this package use.
func NewWithManager(tools *upstream.Manager, skills skillLoader, runs runLogger, maxParallel int) *Engine {
	return New(managerAdapter{m: tools}, skills, runs, maxParallel)
}

// skillLoader is the subset of *skill.Manager the engine needs to resolve
// skill_call nodes.
type skillLoader interface {
	LoadSkill(id string) (skill.Skill, error)
}

// runLogger persists per-node execution records; satisfied by
// *storage.Store.
type runLogger interface {
	AppendNodeExecution(ne skill.NodeExecution) error
}

// Engine runs skill graphs to completion. Each RunSkill call allocates a
// fresh runState; beyond its collaborators and the maxParallel bound, the
// Engine keeps only the table of in-flight runs that CancelRun consults.
type Engine struct {
	tools       toolCaller
	skills      skillLoader
	runs        runLogger
	maxParallel int

	mu     sync.Mutex
	active map[string]*runState
}

// New creates an Engine. maxParallel <= 0 defaults to 32. maxParallel caps
// how many nodes run at once within one phase (phased mode) or one round
// (full_parallel mode); sequential mode runs one node at a time. The cap is
// not shared across runs: concurrent RunSkill calls, including the nested
// run of a skill_call node, each apply it on their own.
func New(tools toolCaller, skills skillLoader, runs runLogger, maxParallel int) *Engine {
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	return &Engine{tools: tools, skills: skills, runs: runs, maxParallel: maxParallel, active: make(map[string]*runState)}
}

// RunSkill allocates a run_id, materialises an execution context, dispatches
// scheduling per graph.concurrency.mode, and returns the aggregated result.
// Inputs that fail inputs_schema validation, an unknown concurrency mode,
// and a fail_fast node failure are surfaced as a non-nil error alongside a
// "failed" SkillRunResult; every other outcome (including per-node
// failures under other error strategies) returns a nil error.
func (e *Engine) RunSkill(ctx context.Context, sk skill.Skill, inputs map[string]any) (skill.SkillRunResult, error) {
	if err := skill.ValidateInputs(sk.InputsSchema, inputs); err != nil {
		now := time.Now()
		return skill.SkillRunResult{
			RunID:     "run_" + uuid.NewString(),
			SkillID:   sk.ID,
			Version:   sk.Version,
			Status:    skill.RunFailed,
			StartedAt: now,
			EndedAt:   &now,
		}, fmt.Errorf("engine: %w", err)
	}

	runID := "run_" + uuid.NewString()
	rs := newRunState(runID, sk, inputs)
	start := time.Now()

	e.mu.Lock()
	e.active[runID] = rs
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, runID)
		e.mu.Unlock()
	}()

	switch sk.Graph.Concurrency.Mode {
	case skill.ModeSequential, "":
		e.runSequential(ctx, sk, rs)
	case skill.ModePhased:
		e.runPhased(ctx, sk, rs)
	case skill.ModeFullParallel:
		e.runFullParallel(ctx, sk, rs)
	default:
		rs.stop(fmt.Errorf("engine: unknown concurrency mode %q", sk.Graph.Concurrency.Mode))
	}

	e.persistExecutions(rs)

	end := time.Now()
	result := skill.SkillRunResult{
		RunID:     runID,
		SkillID:   sk.ID,
		Version:   sk.Version,
		Status:    rs.aggregateStatus(),
		StartedAt: start,
		EndedAt:   &end,
		Outputs:   rs.outputsSnapshot(),
		Nodes:     rs.executions,
	}

	if result.Status == skill.RunFailed && rs.fatalErr != nil {
		return result, rs.fatalErr
	}
	return result, nil
}

// CancelRun sets the cooperative cancellation flag on an in-flight run. The
// scheduling loops check it between nodes/phases; in-flight node work is
// not interrupted mid-transport (MCP requests carry their own timeouts).
// Returns false if runID is not (or no longer) running.
func (e *Engine) CancelRun(runID string) bool {
	e.mu.Lock()
	rs, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	rs.cancel()
	return true
}

func (e *Engine) persistExecutions(rs *runState) {
	if e.runs == nil {
		return
	}
	for _, ne := range rs.executions {
		if err := e.runs.AppendNodeExecution(ne); err != nil {
			log.Printf("[Engine] run %s: append node log for %s: %v", rs.runID, ne.NodeID, err)
		}
	}
}

func (rs *runState) outputsSnapshot() map[string]any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return cloneMap(rs.outputs)
}

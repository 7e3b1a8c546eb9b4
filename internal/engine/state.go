package engine

import (
	"sync"
	"time"

	"github.com/skillflow/skillflow/internal/skill"
)

// runState is the mutable execution context for one run_skill call: inputs,
// accumulated outputs, per-node outputs/status, the node-execution trace,
// and the cooperative cancellation flag. All fields are guarded by mu since
// the full_parallel and phased schedulers touch them from multiple
// goroutines.
type runState struct {
	mu sync.Mutex

	runID   string
	skillID string
	version int

	inputs      map[string]any
	outputs     map[string]any
	nodeOutputs map[string]any
	loopVars    map[string]any

	status     map[string]skill.NodeStatus
	executions []skill.NodeExecution

	// stopped halts scheduling (set by fail_fast, an unknown concurrency
	// mode, or cancel_run); userCancelled additionally marks the run "cancelled"
	// rather than "failed" in the aggregated status, per spec.md §4.H's
	// distinct cancel_run(run_id) entry point.
	stopped       bool
	userCancelled bool
	fatalErr      error
	strategies    map[string]skill.ErrorStrategy
}

func newRunState(runID string, sk skill.Skill, inputs map[string]any) *runState {
	rs := &runState{
		runID:       runID,
		skillID:     sk.ID,
		version:     sk.Version,
		inputs:      inputs,
		outputs:     map[string]any{},
		nodeOutputs: map[string]any{},
		status:      map[string]skill.NodeStatus{},
		strategies:  map[string]skill.ErrorStrategy{},
	}
	if rs.inputs == nil {
		rs.inputs = map[string]any{}
	}
	for _, n := range sk.Graph.Nodes {
		rs.status[n.ID] = skill.StatusPending
		rs.strategies[n.ID] = n.ErrorStrategy
	}
	return rs
}

func (rs *runState) setStatus(id string, st skill.NodeStatus) {
	rs.mu.Lock()
	rs.status[id] = st
	rs.mu.Unlock()
}

func (rs *runState) getStatus(id string) skill.NodeStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.status[id]
}

func (rs *runState) isStopped() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.stopped
}

// stop halts further node launches (fail_fast propagation, or an
// unknown concurrency mode) without marking the run user-cancelled.
func (rs *runState) stop(err error) {
	rs.mu.Lock()
	rs.stopped = true
	if rs.fatalErr == nil {
		rs.fatalErr = err
	}
	rs.mu.Unlock()
}

// cancel implements cancel_run(run_id): the scheduling loop checks this
// between nodes/phases and the final status reports "cancelled".
func (rs *runState) cancel() {
	rs.mu.Lock()
	rs.stopped = true
	rs.userCancelled = true
	rs.mu.Unlock()
}

func (rs *runState) recordExecution(ne skill.NodeExecution) {
	rs.mu.Lock()
	rs.executions = append(rs.executions, ne)
	rs.mu.Unlock()
}

func (rs *runState) setNodeOutput(id string, output any) {
	rs.mu.Lock()
	rs.nodeOutputs[id] = output
	rs.mu.Unlock()
}

func (rs *runState) setLoopVars(vars map[string]any) {
	rs.mu.Lock()
	rs.loopVars = vars
	rs.mu.Unlock()
}

func (rs *runState) clearLoopVars() {
	rs.mu.Lock()
	rs.loopVars = nil
	rs.mu.Unlock()
}

func (rs *runState) mergeOutputs(extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	rs.mu.Lock()
	for k, v := range extra {
		rs.outputs[k] = v
	}
	rs.mu.Unlock()
}

// evalContext snapshots {inputs, outputs, loop_vars} for transform/condition
// evaluation. Snapshotting avoids handing live, lock-guarded maps to
// gval/jsonpath while another goroutine may still be mutating them.
func (rs *runState) evalContext() map[string]any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return map[string]any{
		"inputs":    cloneMap(rs.inputs),
		"outputs":   cloneMap(rs.outputs),
		"loop_vars": cloneMap(rs.loopVars),
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// dependentsReady reports whether every prerequisite of node (explicit
// depends_on plus incoming edges) is satisfied: its status is success, or
// it failed under error_strategy=continue (successors proceed as if its
// output were empty, per spec.md §4.H).
func (rs *runState) dependentsReady(nodeID string, prereqs []string) (ready bool, blocked bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	allSatisfied := true
	anyBlocked := false
	for _, dep := range prereqs {
		st := rs.status[dep]
		switch {
		case st == skill.StatusSuccess:
			// satisfied
		case st == skill.StatusFailed && rs.strategies[dep] == skill.ErrorContinue:
			// satisfied, treated as empty output
		case st == skill.StatusPending || st == skill.StatusRunning:
			allSatisfied = false
		default:
			// failed (non-continue), skipped, or cancelled: this node can
			// never become ready.
			allSatisfied = false
			anyBlocked = true
		}
	}
	return allSatisfied, anyBlocked && !allSatisfied
}

// nodeOutput returns the recorded output for id, or an empty map when id
// failed under error_strategy=continue and has no real output to offer.
func (rs *runState) nodeOutput(id string) any {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if out, ok := rs.nodeOutputs[id]; ok {
		return out
	}
	return map[string]any{}
}

// aggregateStatus implements spec.md §4.H's overall status rule.
func (rs *runState) aggregateStatus() skill.RunStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.userCancelled {
		return skill.RunCancelled
	}
	if rs.fatalErr != nil {
		// fail_fast (or a config error caught before any node ran): the
		// run transitions to failed outright, per spec.md §4.H, regardless
		// of any earlier per-node successes.
		return skill.RunFailed
	}
	sawSuccess, sawFailure := false, false
	for _, st := range rs.status {
		switch st {
		case skill.StatusSuccess:
			sawSuccess = true
		case skill.StatusFailed:
			sawFailure = true
		}
	}
	switch {
	case !sawFailure:
		return skill.RunSuccess
	case sawSuccess:
		return skill.RunPartialFailure
	default:
		return skill.RunFailed
	}
}

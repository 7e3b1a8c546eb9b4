package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/skillflow/skillflow/internal/skill"
)

// ── fakes ────────────────────────────────────────────────────────────────

type fakeToolClient struct {
	calls   []string
	results map[string]string
	errs    map[string]error
}

func (f *fakeToolClient) CallTool(_ context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return "", err
	}
	if out, ok := f.results[name]; ok {
		return out, nil
	}
	data, _ := json.Marshal(args)
	return string(data), nil
}

type fakeToolCaller struct {
	clients map[string]*fakeToolClient
}

func (f *fakeToolCaller) Get(_ context.Context, serverID string) (toolClient, error) {
	c, ok := f.clients[serverID]
	if !ok {
		return nil, fmt.Errorf("no such server %q", serverID)
	}
	return c, nil
}

type fakeSkillLoader struct {
	skills map[string]skill.Skill
}

func (f *fakeSkillLoader) LoadSkill(id string) (skill.Skill, error) {
	sk, ok := f.skills[id]
	if !ok {
		return skill.Skill{}, fmt.Errorf("no such skill %q", id)
	}
	return sk, nil
}

type fakeRunLogger struct {
	appended []skill.NodeExecution
}

func (f *fakeRunLogger) AppendNodeExecution(ne skill.NodeExecution) error {
	f.appended = append(f.appended, ne)
	return nil
}

func newTestEngine(clients map[string]*fakeToolClient, skills map[string]skill.Skill) (*Engine, *fakeRunLogger) {
	logger := &fakeRunLogger{}
	return New(&fakeToolCaller{clients: clients}, &fakeSkillLoader{skills: skills}, logger, 4), logger
}

// ── sequential scheduling ────────────────────────────────────────────────

func TestRunSkill_SequentialTwoNodeChain(t *testing.T) {
	echo := &fakeToolClient{}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": echo}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "t1", ArgsTemplate: map[string]any{"x": "$inputs.n"}},
				{ID: "b", Kind: skill.KindToolCall, ServerID: "s1", Tool: "t2", DependsOn: []string{"a"}},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, map[string]any{"n": 5})
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if result.Status != skill.RunSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}
	if len(echo.calls) != 2 || echo.calls[0] != "t1" || echo.calls[1] != "t2" {
		t.Errorf("calls = %v", echo.calls)
	}
}

func TestRunSkill_SkipDependentsPropagates(t *testing.T) {
	client := &fakeToolClient{errs: map[string]error{"fails": errors.New("boom")}}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "fails", ErrorStrategy: skill.ErrorSkipDependents},
				{ID: "b", Kind: skill.KindToolCall, ServerID: "s1", Tool: "ok", DependsOn: []string{"a"}},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	// No node succeeded, so the run is "failed" rather than partial_failure.
	if result.Status != skill.RunFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
	statuses := map[string]skill.NodeStatus{}
	for _, ne := range result.Nodes {
		statuses[ne.NodeID] = ne.Status
	}
	if statuses["a"] != skill.StatusFailed {
		t.Errorf("a = %s, want failed", statuses["a"])
	}
	// "b" is skipped without running, so it leaves no NodeExecution record.
	if st, ran := statuses["b"]; ran {
		t.Errorf("b = %s, want skipped (no execution record)", st)
	}
}

func TestRunSkill_ContinueLetsSuccessorsProceed(t *testing.T) {
	client := &fakeToolClient{errs: map[string]error{"fails": errors.New("boom")}}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "fails", ErrorStrategy: skill.ErrorContinue},
				{ID: "b", Kind: skill.KindToolCall, ServerID: "s1", Tool: "ok", DependsOn: []string{"a"}},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	statuses := map[string]skill.NodeStatus{}
	for _, ne := range result.Nodes {
		statuses[ne.NodeID] = ne.Status
	}
	if statuses["b"] != skill.StatusSuccess {
		t.Errorf("b = %s, want success (continue should let it run)", statuses["b"])
	}
}

func TestRunSkill_FailFastStopsRunAndReturnsError(t *testing.T) {
	client := &fakeToolClient{errs: map[string]error{"fails": errors.New("boom")}}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "fails", ErrorStrategy: skill.ErrorFailFast},
				{ID: "b", Kind: skill.KindToolCall, ServerID: "s1", Tool: "ok"},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err == nil {
		t.Fatal("expected error from fail_fast")
	}
	if result.Status != skill.RunFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
}

func TestRunSkill_NodeErrorTruncatedInRunLog(t *testing.T) {
	client := &fakeToolClient{errs: map[string]error{"fails": errors.New(strings.Repeat("x", maxNodeErrorRunes*2))}}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "fails", ErrorStrategy: skill.ErrorContinue},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Nodes) != 1 {
		t.Fatalf("expected 1 node execution, got %d", len(result.Nodes))
	}
	if n := len([]rune(result.Nodes[0].Error)); n > maxNodeErrorRunes+len("...") {
		t.Errorf("node error not truncated: %d runes", n)
	}
}

func TestRunSkill_RejectsArgumentsFailingInputsSchema(t *testing.T) {
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": {}}, nil)
	sk := skill.Skill{
		ID: "sk1", Version: 1,
		InputsSchema: map[string]any{
			"type":     "object",
			"required": []any{"path"},
		},
		Graph: skill.Graph{
			Nodes:       []skill.SkillNode{{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "ok"}},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, map[string]any{})
	if err == nil {
		t.Fatal("expected an error for arguments missing a required field")
	}
	if result.Status != skill.RunFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
	if len(result.Nodes) != 0 {
		t.Errorf("expected no nodes to run, got %d", len(result.Nodes))
	}
}

// ── phased / full_parallel ───────────────────────────────────────────────

func TestRunSkill_Phased(t *testing.T) {
	client := &fakeToolClient{}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "t"},
				{ID: "b", Kind: skill.KindToolCall, ServerID: "s1", Tool: "t"},
				{ID: "c", Kind: skill.KindToolCall, ServerID: "s1", Tool: "t", DependsOn: []string{"a", "b"}},
			},
			Concurrency: skill.Concurrency{
				Mode: skill.ModePhased,
				Phases: map[string][]string{
					"0": {"a", "b"},
					"1": {"c"},
				},
			},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if result.Status != skill.RunSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}
	if len(client.calls) != 3 {
		t.Errorf("calls = %v", client.calls)
	}
}

func TestRunSkill_FullParallelDeadlockSkipsRemaining(t *testing.T) {
	client := &fakeToolClient{}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	// "a" has an incoming edge from a node id that doesn't exist among
	// top-level nodes — ValidateGraph would normally reject this; here the
	// prerequisite can never succeed, so the engine must skip "a" without
	// ever launching it.
	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "t"},
			},
			Edges:       []skill.SkillEdge{{From: "ghost", To: "a"}},
			Concurrency: skill.Concurrency{Mode: skill.ModeFullParallel},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if len(result.Nodes) != 0 {
		t.Errorf("expected node 'a' never to launch, got %v", result.Nodes)
	}
}

// ── skill_call nesting ───────────────────────────────────────────────────

func TestRunSkill_NestedSkillCall(t *testing.T) {
	client := &fakeToolClient{}
	nested := skill.Skill{
		ID: "inner", Version: 1,
		Graph: skill.Graph{
			Nodes:       []skill.SkillNode{{ID: "x", Kind: skill.KindToolCall, ServerID: "s1", Tool: "inner_tool"}},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, map[string]skill.Skill{"inner": nested})

	outer := skill.Skill{
		ID: "outer", Version: 1,
		Graph: skill.Graph{
			Nodes:       []skill.SkillNode{{ID: "call", Kind: skill.KindSkillCall, SkillID: "inner"}},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), outer, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if result.Status != skill.RunSuccess {
		t.Errorf("Status = %s", result.Status)
	}
	if len(client.calls) != 1 || client.calls[0] != "inner_tool" {
		t.Errorf("calls = %v", client.calls)
	}
}

// ── conditional ──────────────────────────────────────────────────────────

func TestRunSkill_ConditionalTakesMatchingBranch(t *testing.T) {
	client := &fakeToolClient{}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{
					ID: "branch", Kind: skill.KindConditional,
					Conditional: &skill.ConditionalSpec{
						Branches: []skill.ConditionalBranch{
							{Guard: `inputs.mode == "fast"`, NodeIDs: []string{"f"}},
						},
						DefaultBranch: []string{"s"},
					},
				},
				{ID: "f", Kind: skill.KindToolCall, ServerID: "s1", Tool: "fast_path"},
				{ID: "s", Kind: skill.KindToolCall, ServerID: "s1", Tool: "slow_path"},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, map[string]any{"mode": "slow"})
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if result.Status != skill.RunSuccess {
		t.Errorf("Status = %s", result.Status)
	}
	if len(client.calls) != 1 || client.calls[0] != "slow_path" {
		t.Errorf("calls = %v, want only slow_path", client.calls)
	}

	var branchStatus skill.NodeStatus
	for _, ne := range result.Nodes {
		if ne.NodeID == "s" {
			branchStatus = ne.Status
		}
	}
	if branchStatus != skill.StatusSuccess {
		t.Errorf("s = %s, want success", branchStatus)
	}
}

// ── loop ─────────────────────────────────────────────────────────────────

func TestRunSkill_LoopForRangeRespectsMaxIterations(t *testing.T) {
	client := &fakeToolClient{}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{
					ID: "loop", Kind: skill.KindLoop,
					Loop: &skill.LoopSpec{
						Shape: skill.LoopForRange, RangeStart: 0, RangeEnd: 100, RangeStep: 1,
						MaxIterations: 3, BodyNodeIDs: []string{"body"},
					},
				},
				{ID: "body", Kind: skill.KindToolCall, ServerID: "s1", Tool: "iterate"},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if len(client.calls) != 3 {
		t.Errorf("calls = %v, want 3 (max_iterations cap)", client.calls)
	}
	if result.Status != skill.RunSuccess {
		t.Errorf("Status = %s", result.Status)
	}
}

func TestRunSkill_LoopForRangeBindsIterationVar(t *testing.T) {
	client := &fakeToolClient{}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{
					ID: "loop", Kind: skill.KindLoop,
					Loop: &skill.LoopSpec{
						Shape: skill.LoopForRange, RangeStart: 0, RangeEnd: 3, RangeStep: 1,
						IterationVar: "i", MaxIterations: 10, BodyNodeIDs: []string{"body"},
					},
				},
				{
					ID: "body", Kind: skill.KindToolCall, ServerID: "s1", Tool: "echo",
					ArgsTemplate: map[string]any{"v": "$loop.i"},
				},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("calls = %v, want 3", client.calls)
	}
	for _, ne := range result.Nodes {
		if ne.NodeID != "body" {
			continue
		}
		if ne.Status == skill.StatusFailed {
			t.Fatalf("body node failed: %s", ne.Error)
		}
	}
}

// ── export_outputs / JSONPath ────────────────────────────────────────────

func TestRunSkill_ExportOutputsExtractsJSONPath(t *testing.T) {
	client := &fakeToolClient{results: map[string]string{"fetch": `{"user":{"id":"u1"}}`}}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{
					ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "fetch",
					ExportOutputs: map[string]string{"user_id": "$.user.id"},
				},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if result.Outputs["user_id"] != "u1" {
		t.Errorf("Outputs[user_id] = %#v, want u1", result.Outputs["user_id"])
	}
}

func TestRunSkill_ExportOutputsTopLevelResultField(t *testing.T) {
	client := &fakeToolClient{results: map[string]string{"add": `{"result":5}`, "neg": `{"result":-5}`}}
	e, _ := newTestEngine(map[string]*fakeToolClient{"s1": client}, nil)

	sk := skill.Skill{
		ID: "sk1", Version: 1,
		Graph: skill.Graph{
			Nodes: []skill.SkillNode{
				{ID: "a", Kind: skill.KindToolCall, ServerID: "s1", Tool: "add", ExportOutputs: map[string]string{"sum": "$.result"}},
				{ID: "b", Kind: skill.KindToolCall, ServerID: "s1", Tool: "neg", ExportOutputs: map[string]string{"neg": "$.result"}},
			},
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	result, err := e.RunSkill(context.Background(), sk, nil)
	if err != nil {
		t.Fatalf("RunSkill: %v", err)
	}
	if result.Outputs["sum"] != float64(5) {
		t.Errorf("Outputs[sum] = %#v, want 5", result.Outputs["sum"])
	}
	if result.Outputs["neg"] != float64(-5) {
		t.Errorf("Outputs[neg] = %#v, want -5", result.Outputs["neg"])
	}
}

// ── cancellation ─────────────────────────────────────────────────────────

func TestCancelRun_UnknownIDReturnsFalse(t *testing.T) {
	e, _ := newTestEngine(nil, nil)
	if e.CancelRun("run_doesnotexist") {
		t.Error("expected false for unknown run id")
	}
}

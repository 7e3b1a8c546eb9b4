package skill

import "time"

// NodeKind discriminates the payload a SkillNode carries.
type NodeKind string

const (
	KindToolCall    NodeKind = "tool_call"
	KindSkillCall   NodeKind = "skill_call"
	KindConditional NodeKind = "conditional"
	KindLoop        NodeKind = "loop"
)

// ErrorStrategy governs what happens to a run when a node fails.
type ErrorStrategy string

const (
	ErrorFailFast       ErrorStrategy = "fail_fast"
	ErrorSkipDependents ErrorStrategy = "skip_dependents"
	ErrorRetry          ErrorStrategy = "retry"
	ErrorContinue       ErrorStrategy = "continue"
)

// ConcurrencyMode selects how the engine schedules a graph's nodes.
type ConcurrencyMode string

const (
	ModeSequential   ConcurrencyMode = "sequential"
	ModePhased       ConcurrencyMode = "phased"
	ModeFullParallel ConcurrencyMode = "full_parallel"
)

// RetryPolicy configures the "retry" error strategy: up to MaxRetries
// attempts, with delay BackoffMS × Multiplier^attempt between them.
type RetryPolicy struct {
	MaxRetries int     `json:"max_retries"`
	BackoffMS  int     `json:"backoff_ms"`
	Multiplier float64 `json:"multiplier"`
}

// ConditionalBranch is one guarded arm of a conditional node.
type ConditionalBranch struct {
	Guard   string   `json:"guard"` // evaluated via internal/transform
	NodeIDs []string `json:"node_ids"`
}

// ConditionalSpec is the kind-specific payload of a "conditional" node.
type ConditionalSpec struct {
	Branches      []ConditionalBranch `json:"branches"`
	DefaultBranch []string            `json:"default_branch,omitempty"`
}

// LoopShape discriminates the three loop forms §4.H describes.
type LoopShape string

const (
	LoopFor      LoopShape = "for"
	LoopWhile    LoopShape = "while"
	LoopForRange LoopShape = "for_range"
)

// LoopSpec is the kind-specific payload of a "loop" node.
type LoopSpec struct {
	Shape         LoopShape `json:"shape"`
	Collection    string    `json:"collection,omitempty"`    // JSONPath, for "for"
	IterationVar  string    `json:"iteration_var,omitempty"` // for "for" and "for_range"; defaults to "value"
	Condition     string    `json:"condition,omitempty"`     // for "while"
	RangeStart    int       `json:"range_start,omitempty"`
	RangeEnd      int       `json:"range_end,omitempty"`
	RangeStep     int       `json:"range_step,omitempty"`
	MaxIterations int       `json:"max_iterations"`
	BodyNodeIDs   []string  `json:"body_node_ids"`
}

// ParameterTransform optionally rewrites a node's resolved argument
// structure using the engine described in §4.G.
type ParameterTransform struct {
	Engine     string `json:"engine"` // "none" | "jsonpath" | "template"
	Expression string `json:"expression,omitempty"`
}

// SkillNode is one vertex of a skill's DAG.
type SkillNode struct {
	ID                 string              `json:"id"`
	Kind               NodeKind            `json:"kind"`
	ServerID           string              `json:"server_id,omitempty"` // mandatory for tool_call
	Tool               string              `json:"tool,omitempty"`     // mandatory for tool_call
	ArgsTemplate       map[string]any      `json:"args_template,omitempty"`
	ParameterTransform *ParameterTransform `json:"parameter_transform,omitempty"`
	ExportOutputs      map[string]string   `json:"export_outputs,omitempty"` // name -> JSONPath
	DependsOn          []string            `json:"depends_on,omitempty"`
	ErrorStrategy      ErrorStrategy       `json:"error_strategy,omitempty"`
	Retry              *RetryPolicy        `json:"retry,omitempty"`
	TimeoutMS          int                 `json:"timeout_ms,omitempty"`
	SkillID            string              `json:"skill_id,omitempty"` // skill_call
	Conditional        *ConditionalSpec    `json:"conditional,omitempty"`
	Loop               *LoopSpec           `json:"loop,omitempty"`
	Phase              string              `json:"phase,omitempty"` // used when graph is phased
}

// SkillEdge is a directed edge in the graph, with an optional guard
// expression evaluated by internal/transform.
type SkillEdge struct {
	From      string `json:"from_node"`
	To        string `json:"to_node"`
	Condition string `json:"condition,omitempty"`
}

// Concurrency is the graph-level scheduling policy.
type Concurrency struct {
	Mode        ConcurrencyMode     `json:"mode"`
	Phases      map[string][]string `json:"phases,omitempty"` // phase_id -> node_ids, sorted-key order
	MaxParallel int                 `json:"max_parallel,omitempty"`
}

// Graph bundles the nodes, edges, and scheduling policy of a skill.
type Graph struct {
	Nodes       []SkillNode `json:"nodes"`
	Edges       []SkillEdge `json:"edges"`
	Concurrency Concurrency `json:"concurrency"`
}

// Author identifies who produced a skill or recording.
type Author struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
}

// Skill is one immutable version of a reusable, parameterised workflow.
type Skill struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Version      int            `json:"version"`
	Description  string         `json:"description"`
	Tags         []string       `json:"tags,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Author       Author         `json:"author"`
	InputsSchema map[string]any `json:"inputs_schema"`
	OutputSchema map[string]any `json:"output_schema"`
	Graph        Graph          `json:"graph"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Meta is the lightweight listing form persisted as skills/<id>/meta.json.
type Meta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Author      Author    `json:"author"`
}

// NodeStatus tracks a node's progress through the run lifecycle. Statuses
// only move forward: pending -> running -> {success, failed, skipped,
// cancelled}; a node never regresses.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusRunning   NodeStatus = "running"
	StatusSuccess   NodeStatus = "success"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
	StatusCancelled NodeStatus = "cancelled"
)

// RunStatus is the overall outcome of a skill run.
type RunStatus string

const (
	RunPending        RunStatus = "pending"
	RunRunning        RunStatus = "running"
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
)

// NodeExecution is the per-node log record appended to a run's log file.
type NodeExecution struct {
	RunID      string         `json:"run_id"`
	SkillID    string         `json:"skill_id"`
	Version    int            `json:"version"`
	NodeID     string         `json:"node_id"`
	Status     NodeStatus     `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count,omitempty"`
}

// SkillRunResult is the run-level outcome, assembled from its NodeExecutions.
type SkillRunResult struct {
	RunID     string          `json:"run_id"`
	SkillID   string          `json:"skill_id"`
	Version   int             `json:"version"`
	Status    RunStatus       `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Outputs   map[string]any  `json:"outputs,omitempty"`
	Nodes     []NodeExecution `json:"nodes"`
}

// Descriptor is the tool-shaped projection of a skill, per spec.md §4.E.
type Descriptor struct {
	Name        string         `json:"name"` // "skill__<id>"
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ExportAsToolDescriptor projects a Skill into its externally-published
// tool descriptor form.
func ExportAsToolDescriptor(s Skill) Descriptor {
	return Descriptor{
		Name:        "skill__" + s.ID,
		Description: s.Description,
		InputSchema: s.InputsSchema,
	}
}

// Filter is the combined (AND-ed) query accepted by list_skills.
type Filter struct {
	NameContains  string // case-insensitive substring match on name/description
	Tags          []string
	AuthorID      string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

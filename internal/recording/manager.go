package recording

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillflow/skillflow/internal/skill"
)

// sessionStore is the subset of *storage.Store a Manager needs to persist
// sealed sessions. Declared locally, matching the narrow-interface idiom
// used by internal/skill.Manager's store interface.
type sessionStore interface {
	SaveSession(Session) error
}

// activeSession pairs a mutable in-progress Session with the per-session
// lock that serialises taps into it, per spec.md §9's "a mapping from
// session id to a small lock, cleared on stop."
type activeSession struct {
	mu   sync.Mutex
	sess Session
}

// Manager owns the lifecycle of in-progress recording sessions: start,
// tap, stop, and draft projection. Only currently-active sessions live in
// memory; sealed sessions are handed to storage and forgotten here.
type Manager struct {
	st sessionStore

	mu       sync.Mutex
	sessions map[string]*activeSession
}

// NewManager creates a Manager with no active sessions.
func NewManager(st sessionStore) *Manager {
	return &Manager{st: st, sessions: make(map[string]*activeSession)}
}

// StartSession allocates session_id = "session_<ISO8601>_<rand8>" and
// begins capturing, per spec.md §4.F.
func (m *Manager) StartSession(clientID, workspaceID string, metadata map[string]string) string {
	id := fmt.Sprintf("session_%s_%s", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
	as := &activeSession{sess: Session{
		ID:          id,
		StartedAt:   time.Now(),
		ClientID:    clientID,
		WorkspaceID: workspaceID,
		Metadata:    metadata,
	}}

	m.mu.Lock()
	m.sessions[id] = as
	m.mu.Unlock()

	log.Printf("[Recording] started session %s", id)
	return id
}

// Tap appends a ToolCallLog to sessionID under its lock. If sessionID has
// no active session (recording is opt-in, and a tap may race with Stop),
// the call is a silent no-op rather than an error.
func (m *Manager) Tap(sessionID string, entry ToolCallLog) {
	m.mu.Lock()
	as, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	as.mu.Lock()
	entry.Index = len(as.sess.Logs) + 1
	entry.Timestamp = time.Now()
	as.sess.Logs = append(as.sess.Logs, entry)
	as.mu.Unlock()
}

// StopSession seals ended_at, persists the session via storage, and
// removes it (and its lock) from memory.
func (m *Manager) StopSession(sessionID string) (Session, error) {
	m.mu.Lock()
	as, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return Session{}, fmt.Errorf("recording: no active session %q", sessionID)
	}

	as.mu.Lock()
	now := time.Now()
	as.sess.EndedAt = &now
	sealed := as.sess
	as.mu.Unlock()

	if err := m.st.SaveSession(sealed); err != nil {
		return Session{}, fmt.Errorf("recording: stop %q: %w", sessionID, err)
	}
	log.Printf("[Recording] stopped session %s (%d calls)", sessionID, len(sealed.Logs))
	return sealed, nil
}

// ActiveSessionIDs lists the currently in-progress session ids.
func (m *Manager) ActiveSessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ExposeParamSpec names one leaf within the selected logs that becomes an
// input parameter of the projected skill draft, per spec.md §4.F.
type ExposeParamSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
	SourcePath  string         `json:"source_path"` // "logs[N].args.<field>"
}

// DraftOptions selects the log subset and parameter exposures for
// ToSkillDraft.
type DraftOptions struct {
	Indices      []int // explicit index list; takes precedence over the range below
	StartIndex   int   // half-open [StartIndex, EndIndex) range
	EndIndex     int   // 0 means "through the end"
	ExposeParams []ExposeParamSpec
}

// ToSkillDraft projects a subset of sess's logs into an unpersisted
// skill.Skill draft (version 0, no id/author/timestamps — the caller fills
// those in via skill.Manager.CreateSkill), per spec.md §4.F.
func ToSkillDraft(sess Session, opts DraftOptions) (skill.Skill, error) {
	logs := selectLogs(sess.Logs, opts)
	if len(logs) == 0 {
		return skill.Skill{}, fmt.Errorf("recording: draft projection %q: no logs selected", sess.ID)
	}

	nodes := make([]skill.SkillNode, len(logs))
	edges := make([]skill.SkillEdge, 0, len(logs)-1)
	for i, l := range logs {
		nodeID := fmt.Sprintf("step_%d", i+1)
		args := cloneArgs(l.Args)
		nodes[i] = skill.SkillNode{
			ID:           nodeID,
			Kind:         skill.KindToolCall,
			ServerID:     l.ServerID,
			Tool:         l.Tool,
			ArgsTemplate: args,
		}
		if i > 0 {
			edges = append(edges, skill.SkillEdge{From: fmt.Sprintf("step_%d", i), To: nodeID})
		}
	}

	requiredProps := map[string]any{}
	properties := map[string]any{}
	var required []string
	for _, p := range opts.ExposeParams {
		idx, field, err := parseSourcePath(p.SourcePath)
		if err != nil {
			return skill.Skill{}, fmt.Errorf("recording: expose param %q: %w", p.Name, err)
		}
		if idx < 0 || idx >= len(nodes) {
			return skill.Skill{}, fmt.Errorf("recording: expose param %q: log index %d out of range", p.Name, idx)
		}
		if !setLeaf(nodes[idx].ArgsTemplate, field, "$inputs."+p.Name) {
			return skill.Skill{}, fmt.Errorf("recording: expose param %q: source path %q not found", p.Name, p.SourcePath)
		}
		properties[p.Name] = p.Schema
		if !schemaAdmitsNull(p.Schema) {
			required = append(required, p.Name)
		}
		requiredProps[p.Name] = p.Schema
	}

	inputsSchema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		inputsSchema["required"] = required
	}

	draft := skill.Skill{
		InputsSchema: inputsSchema,
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"success": map[string]any{"type": "boolean"},
				"message": map[string]any{"type": "string"},
			},
		},
		Graph: skill.Graph{
			Nodes:       nodes,
			Edges:       edges,
			Concurrency: skill.Concurrency{Mode: skill.ModeSequential},
		},
	}
	return draft, nil
}

// selectLogs applies opts over logs, which are in Index (= slice position
// + 1) order. An explicit Indices list takes precedence over the
// [StartIndex, EndIndex) half-open range; with neither set, every log is
// selected.
func selectLogs(logs []ToolCallLog, opts DraftOptions) []ToolCallLog {
	if len(opts.Indices) > 0 {
		byIndex := make(map[int]ToolCallLog, len(logs))
		for _, l := range logs {
			byIndex[l.Index] = l
		}
		out := make([]ToolCallLog, 0, len(opts.Indices))
		for _, idx := range opts.Indices {
			if l, ok := byIndex[idx]; ok {
				out = append(out, l)
			}
		}
		return out
	}

	if opts.StartIndex == 0 && opts.EndIndex == 0 {
		return logs
	}
	end := opts.EndIndex
	if end <= 0 {
		end = len(logs)
	}
	var out []ToolCallLog
	for i, l := range logs {
		if i >= opts.StartIndex && i < end {
			out = append(out, l)
		}
	}
	return out
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// parseSourcePath parses "logs[N].args.<field>" into (N, field).
func parseSourcePath(path string) (int, string, error) {
	const logsPrefix = "logs["
	if !strings.HasPrefix(path, logsPrefix) {
		return 0, "", fmt.Errorf("malformed source_path %q", path)
	}
	rest := path[len(logsPrefix):]
	close := strings.Index(rest, "]")
	if close < 0 {
		return 0, "", fmt.Errorf("malformed source_path %q", path)
	}
	var idx int
	if _, err := fmt.Sscanf(rest[:close], "%d", &idx); err != nil {
		return 0, "", fmt.Errorf("malformed source_path %q: %w", path, err)
	}
	const fieldPrefix = "].args."
	tail := rest[close:]
	if !strings.HasPrefix(tail, fieldPrefix) {
		return 0, "", fmt.Errorf("malformed source_path %q", path)
	}
	field := tail[len(fieldPrefix):]
	if field == "" {
		return 0, "", fmt.Errorf("malformed source_path %q", path)
	}
	return idx, field, nil
}

// setLeaf replaces the dotted-path leaf in args with placeholder, reporting
// whether the path was found.
func setLeaf(args map[string]any, dotted string, placeholder string) bool {
	parts := strings.Split(dotted, ".")
	cur := args
	for i, part := range parts {
		if i == len(parts)-1 {
			if _, ok := cur[part]; !ok {
				return false
			}
			cur[part] = placeholder
			return true
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

func schemaAdmitsNull(schema map[string]any) bool {
	t, ok := schema["type"]
	if !ok {
		return false
	}
	switch v := t.(type) {
	case string:
		return v == "null"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "null" {
				return true
			}
		}
	}
	return false
}

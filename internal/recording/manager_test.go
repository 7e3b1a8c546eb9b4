package recording

import (
	"testing"
)

type fakeStore struct {
	saved []Session
}

func (f *fakeStore) SaveSession(s Session) error {
	f.saved = append(f.saved, s)
	return nil
}

func TestStartTapStop_RecordsLogsInOrder(t *testing.T) {
	st := &fakeStore{}
	m := NewManager(st)

	id := m.StartSession("client-1", "ws-1", map[string]string{"purpose": "demo"})
	m.Tap(id, ToolCallLog{ServerID: "github", Tool: "list_issues", Args: map[string]any{"repo": "foo"}, Status: StatusSuccess})
	m.Tap(id, ToolCallLog{ServerID: "github", Tool: "create_issue", Args: map[string]any{"title": "bug"}, Status: StatusSuccess})

	sess, err := m.StopSession(id)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(sess.Logs) != 2 {
		t.Fatalf("got %d logs", len(sess.Logs))
	}
	if sess.Logs[0].Index != 1 || sess.Logs[1].Index != 2 {
		t.Fatalf("indices = %d, %d", sess.Logs[0].Index, sess.Logs[1].Index)
	}
	if sess.EndedAt == nil {
		t.Fatal("expected EndedAt to be set")
	}
	if len(st.saved) != 1 {
		t.Fatalf("expected one saved session, got %d", len(st.saved))
	}
}

func TestTap_NoActiveSessionIsNoop(t *testing.T) {
	m := NewManager(&fakeStore{})
	m.Tap("session_nonexistent", ToolCallLog{ServerID: "x", Tool: "y"})
}

func TestStopSession_UnknownIDErrors(t *testing.T) {
	m := NewManager(&fakeStore{})
	if _, err := m.StopSession("nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestStopSession_RemovesFromActiveList(t *testing.T) {
	m := NewManager(&fakeStore{})
	id := m.StartSession("c", "w", nil)
	if len(m.ActiveSessionIDs()) != 1 {
		t.Fatal("expected one active session")
	}
	if _, err := m.StopSession(id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(m.ActiveSessionIDs()) != 0 {
		t.Fatal("expected no active sessions after stop")
	}
}

func sampleSession() Session {
	return Session{
		ID: "session_test",
		Logs: []ToolCallLog{
			{Index: 1, ServerID: "github", Tool: "list_issues", Args: map[string]any{"repo": "foo", "state": "open"}},
			{Index: 2, ServerID: "github", Tool: "create_issue", Args: map[string]any{"title": "found a bug", "repo": "foo"}},
		},
	}
}

func TestToSkillDraft_ProjectsLinearChain(t *testing.T) {
	draft, err := ToSkillDraft(sampleSession(), DraftOptions{})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(draft.Graph.Nodes) != 2 {
		t.Fatalf("got %d nodes", len(draft.Graph.Nodes))
	}
	if draft.Graph.Nodes[0].ID != "step_1" || draft.Graph.Nodes[1].ID != "step_2" {
		t.Fatalf("node ids = %q, %q", draft.Graph.Nodes[0].ID, draft.Graph.Nodes[1].ID)
	}
	if len(draft.Graph.Edges) != 1 || draft.Graph.Edges[0].From != "step_1" || draft.Graph.Edges[0].To != "step_2" {
		t.Fatalf("unexpected edges: %+v", draft.Graph.Edges)
	}
}

func TestToSkillDraft_ExposesParamAsPlaceholder(t *testing.T) {
	draft, err := ToSkillDraft(sampleSession(), DraftOptions{
		ExposeParams: []ExposeParamSpec{
			{Name: "repo_name", Description: "repository", Schema: map[string]any{"type": "string"}, SourcePath: "logs[0].args.repo"},
		},
	})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	got := draft.Graph.Nodes[0].ArgsTemplate["repo"]
	if got != "$inputs.repo_name" {
		t.Fatalf("got %v", got)
	}
	props, _ := draft.InputsSchema["properties"].(map[string]any)
	if _, ok := props["repo_name"]; !ok {
		t.Fatal("expected repo_name in inputs_schema.properties")
	}
	required, _ := draft.InputsSchema["required"].([]string)
	if len(required) != 1 || required[0] != "repo_name" {
		t.Fatalf("required = %v", required)
	}
}

func TestToSkillDraft_NullableSchemaNotRequired(t *testing.T) {
	draft, err := ToSkillDraft(sampleSession(), DraftOptions{
		ExposeParams: []ExposeParamSpec{
			{Name: "state", Schema: map[string]any{"type": []any{"string", "null"}}, SourcePath: "logs[0].args.state"},
		},
	})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	required, _ := draft.InputsSchema["required"].([]string)
	if len(required) != 0 {
		t.Fatalf("expected no required params, got %v", required)
	}
}

func TestToSkillDraft_IndexSubsetSelection(t *testing.T) {
	draft, err := ToSkillDraft(sampleSession(), DraftOptions{Indices: []int{2}})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(draft.Graph.Nodes) != 1 || draft.Graph.Nodes[0].Tool != "create_issue" {
		t.Fatalf("unexpected nodes: %+v", draft.Graph.Nodes)
	}
}

func TestToSkillDraft_UnknownSourcePathErrors(t *testing.T) {
	_, err := ToSkillDraft(sampleSession(), DraftOptions{
		ExposeParams: []ExposeParamSpec{
			{Name: "x", Schema: map[string]any{"type": "string"}, SourcePath: "logs[0].args.nonexistent"},
		},
	})
	if err == nil {
		t.Fatal("expected error for missing source path")
	}
}

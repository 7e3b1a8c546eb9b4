package skill

import (
	"fmt"
	"testing"
	"time"

	"github.com/skillflow/skillflow/internal/cache"
)

// fakeStore is an in-memory stand-in for *storage.Store, sufficient to
// exercise Manager's CRUD and caching logic without touching a filesystem.
type fakeStore struct {
	versions map[string]map[int]Skill
	metas    map[string]Meta
	mtimes   map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		versions: make(map[string]map[int]Skill),
		metas:    make(map[string]Meta),
		mtimes:   make(map[string]time.Time),
	}
}

func (f *fakeStore) SaveSkill(sk Skill) error {
	if f.versions[sk.ID] == nil {
		f.versions[sk.ID] = make(map[int]Skill)
	}
	f.versions[sk.ID][sk.Version] = sk
	f.metas[sk.ID] = Meta{ID: sk.ID, Name: sk.Name, Version: sk.Version, Description: sk.Description, Tags: sk.Tags, CreatedAt: sk.CreatedAt, UpdatedAt: sk.UpdatedAt, Author: sk.Author}
	f.mtimes[key(sk.ID, sk.Version)] = time.Now()
	return nil
}

func (f *fakeStore) LoadSkill(id string, version int) (Skill, error) {
	sk, ok := f.versions[id][version]
	if !ok {
		return Skill{}, fmt.Errorf("not found: %s v%d", id, version)
	}
	return sk, nil
}

func (f *fakeStore) LoadLatestSkill(id string) (Skill, error) {
	meta, ok := f.metas[id]
	if !ok {
		return Skill{}, fmt.Errorf("not found: %s", id)
	}
	return f.LoadSkill(id, meta.Version)
}

func (f *fakeStore) GetMeta(id string) (Meta, bool) {
	m, ok := f.metas[id]
	return m, ok
}

func (f *fakeStore) ListMeta() []Meta {
	out := make([]Meta, 0, len(f.metas))
	for _, m := range f.metas {
		out = append(out, m)
	}
	return out
}

func (f *fakeStore) DeleteSkill(id string, hard bool) error {
	delete(f.metas, id)
	if hard {
		delete(f.versions, id)
	}
	return nil
}

func (f *fakeStore) SkillVersionMtime(id string, version int) (time.Time, error) {
	mt, ok := f.mtimes[key(id, version)]
	if !ok {
		return time.Time{}, fmt.Errorf("no mtime for %s v%d", id, version)
	}
	return mt, nil
}

func key(id string, version int) string { return fmt.Sprintf("%s@%d", id, version) }

func newTestManager() (*Manager, *fakeStore) {
	st := newFakeStore()
	return NewManager(st, cache.NewSkillCache(time.Minute)), st
}

// ── CRUD ─────────────────────────────────────────────────────────────────

func TestCreateSkill(t *testing.T) {
	m, _ := newTestManager()
	sk, err := m.CreateSkill("greet", "Greet", "says hello", Author{WorkspaceID: "ws1"}, Skill{}, "")
	if err != nil {
		t.Fatalf("CreateSkill: %v", err)
	}
	if sk.Version != 1 {
		t.Errorf("Version = %d, want 1", sk.Version)
	}
	if sk.ID != "greet" {
		t.Errorf("ID = %q", sk.ID)
	}
}

func TestCreateSkill_PropagatesSourceSession(t *testing.T) {
	m, _ := newTestManager()
	sk, err := m.CreateSkill("greet", "Greet", "desc", Author{}, Skill{}, "session_abc")
	if err != nil {
		t.Fatal(err)
	}
	if sk.Metadata["source_session_id"] != "session_abc" {
		t.Errorf("Metadata[source_session_id] = %v", sk.Metadata["source_session_id"])
	}
}

func TestUpdateSkill_IncrementsVersion(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.CreateSkill("greet", "Greet", "v1", Author{}, Skill{}, ""); err != nil {
		t.Fatal(err)
	}
	updated, err := m.UpdateSkill("greet", func(s *Skill) { s.Description = "v2" })
	if err != nil {
		t.Fatalf("UpdateSkill: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	if updated.Description != "v2" {
		t.Errorf("Description = %q", updated.Description)
	}
}

func TestDeleteSkill_RemovesFromListing(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.CreateSkill("greet", "Greet", "d", Author{}, Skill{}, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSkill("greet", false); err != nil {
		t.Fatalf("DeleteSkill: %v", err)
	}
	if len(m.ListSkills(Filter{})) != 0 {
		t.Error("expected no skills listed after delete")
	}
}

// ── ListSkills filters ───────────────────────────────────────────────────

func TestListSkills_CombinedFilters(t *testing.T) {
	m, _ := newTestManager()
	m.CreateSkill("a", "Open PR", "opens a pull request", Author{WorkspaceID: "ws1"}, Skill{Tags: []string{"github"}}, "")
	m.CreateSkill("b", "Close Ticket", "closes a jira ticket", Author{WorkspaceID: "ws2"}, Skill{Tags: []string{"jira"}}, "")

	got := m.ListSkills(Filter{NameContains: "pr", Tags: []string{"github"}, AuthorID: "ws1"})
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("got %+v, want only skill \"a\"", got)
	}

	none := m.ListSkills(Filter{AuthorID: "ws1", Tags: []string{"jira"}})
	if len(none) != 0 {
		t.Errorf("expected no matches for mismatched author+tag, got %+v", none)
	}
}

// ── ValidateGraph ────────────────────────────────────────────────────────

func TestValidateGraph_DetectsCycle(t *testing.T) {
	g := Graph{Nodes: []SkillNode{{ID: "n1", DependsOn: []string{"n2"}}, {ID: "n2", DependsOn: []string{"n1"}}}}
	if err := ValidateGraph(g); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestValidateGraph_DetectsDanglingEdge(t *testing.T) {
	g := Graph{Nodes: []SkillNode{{ID: "n1"}}, Edges: []SkillEdge{{From: "n1", To: "ghost"}}}
	if err := ValidateGraph(g); err == nil {
		t.Fatal("expected dangling edge error")
	}
}

func TestValidateGraph_AcceptsValidDAG(t *testing.T) {
	g := Graph{
		Nodes: []SkillNode{{ID: "n1"}, {ID: "n2", DependsOn: []string{"n1"}}},
		Edges: []SkillEdge{{From: "n1", To: "n2"}},
	}
	if err := ValidateGraph(g); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

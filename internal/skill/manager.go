package skill

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillflow/skillflow/internal/cache"
)

// store is the subset of *storage.Store the manager needs. Declared here
// (rather than importing internal/storage directly) to avoid a dependency
// cycle, since storage.Skill already depends on this package's types.
type store interface {
	SaveSkill(Skill) error
	LoadSkill(id string, version int) (Skill, error)
	LoadLatestSkill(id string) (Skill, error)
	GetMeta(id string) (Meta, bool)
	ListMeta() []Meta
	DeleteSkill(id string, hard bool) error
	SkillVersionMtime(id string, version int) (time.Time, error)
}

// Manager is a stateless façade over storage and the skill cache: it owns
// no state of its own beyond references to its collaborators, matching
// spec.md §4.E ("Stateless façade over storage").
type Manager struct {
	st    store
	cache *cache.SkillCache
}

// NewManager creates a Manager over the given storage and skill cache.
func NewManager(st store, skillCache *cache.SkillCache) *Manager {
	return &Manager{st: st, cache: skillCache}
}

// CreateSkill writes v0001 for a new skill id, propagating
// sourceSessionID into metadata when the draft originated from a
// recording (spec.md §4.E).
func (m *Manager) CreateSkill(id, name, description string, author Author, draft Skill, sourceSessionID string) (Skill, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	sk := draft
	sk.ID = id
	sk.Name = name
	sk.Description = description
	sk.Author = author
	sk.Version = 1
	sk.CreatedAt = now
	sk.UpdatedAt = now
	if sourceSessionID != "" {
		if sk.Metadata == nil {
			sk.Metadata = map[string]any{}
		}
		sk.Metadata["source_session_id"] = sourceSessionID
	}

	if err := ValidateGraph(sk.Graph); err != nil {
		return Skill{}, fmt.Errorf("skill: create %q: %w", id, err)
	}
	if err := ValidateSchemaDoc(sk.InputsSchema); err != nil {
		return Skill{}, fmt.Errorf("skill: create %q: inputs_schema: %w", id, err)
	}
	if err := ValidateSchemaDoc(sk.OutputSchema); err != nil {
		return Skill{}, fmt.Errorf("skill: create %q: output_schema: %w", id, err)
	}
	if err := m.st.SaveSkill(sk); err != nil {
		return Skill{}, fmt.Errorf("skill: create %q: %w", id, err)
	}
	log.Printf("[Skill] created %s v%d", sk.ID, sk.Version)
	return sk, nil
}

// UpdateSkill loads the current version, applies mutate, and writes the
// result as version+1. Earlier versions remain on disk untouched.
func (m *Manager) UpdateSkill(id string, mutate func(*Skill)) (Skill, error) {
	current, err := m.LoadSkill(id)
	if err != nil {
		return Skill{}, fmt.Errorf("skill: update %q: %w", id, err)
	}
	next := current
	mutate(&next)
	next.ID = id
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now()

	if err := ValidateGraph(next.Graph); err != nil {
		return Skill{}, fmt.Errorf("skill: update %q: %w", id, err)
	}
	if err := ValidateSchemaDoc(next.InputsSchema); err != nil {
		return Skill{}, fmt.Errorf("skill: update %q: inputs_schema: %w", id, err)
	}
	if err := ValidateSchemaDoc(next.OutputSchema); err != nil {
		return Skill{}, fmt.Errorf("skill: update %q: output_schema: %w", id, err)
	}
	if err := m.st.SaveSkill(next); err != nil {
		return Skill{}, fmt.Errorf("skill: update %q: %w", id, err)
	}
	m.cache.Invalidate(id)
	log.Printf("[Skill] updated %s -> v%d", id, next.Version)
	return next, nil
}

// DeleteSkill removes id from the index and cache; hard=true also removes
// the on-disk directory.
func (m *Manager) DeleteSkill(id string, hard bool) error {
	if err := m.st.DeleteSkill(id, hard); err != nil {
		return fmt.Errorf("skill: delete %q: %w", id, err)
	}
	m.cache.Invalidate(id)
	log.Printf("[Skill] deleted %s (hard=%v)", id, hard)
	return nil
}

// LoadSkill returns the latest version of id, consulting the cache first.
func (m *Manager) LoadSkill(id string) (Skill, error) {
	meta, ok := m.st.GetMeta(id)
	if !ok {
		return Skill{}, fmt.Errorf("skill: %q not found", id)
	}
	mtime, err := m.st.SkillVersionMtime(id, meta.Version)
	if err == nil {
		if sk, ok := m.cache.Get(id, mtime); ok {
			return sk, nil
		}
	}
	sk, err := m.st.LoadSkill(id, meta.Version)
	if err != nil {
		return Skill{}, err
	}
	if mtime, mErr := m.st.SkillVersionMtime(id, meta.Version); mErr == nil {
		m.cache.Set(id, sk, mtime)
	}
	return sk, nil
}

// ListSkills applies the combined (AND-ed) filter over the in-memory index.
func (m *Manager) ListSkills(filter Filter) []Meta {
	all := m.st.ListMeta()
	out := make([]Meta, 0, len(all))
	for _, meta := range all {
		if matchesFilter(meta, filter) {
			out = append(out, meta)
		}
	}
	return out
}

func matchesFilter(meta Meta, f Filter) bool {
	if f.NameContains != "" {
		needle := strings.ToLower(f.NameContains)
		if !strings.Contains(strings.ToLower(meta.Name), needle) &&
			!strings.Contains(strings.ToLower(meta.Description), needle) {
			return false
		}
	}
	if len(f.Tags) > 0 {
		have := make(map[string]bool, len(meta.Tags))
		for _, t := range meta.Tags {
			have[t] = true
		}
		for _, want := range f.Tags {
			if !have[want] {
				return false
			}
		}
	}
	if f.AuthorID != "" && meta.Author.WorkspaceID != f.AuthorID {
		return false
	}
	if f.CreatedAfter != nil && meta.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && meta.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// ValidateGraph checks the structural invariants spec.md §3 requires: no
// dangling edge/depends_on references, and no cycles.
func ValidateGraph(g Graph) error {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	adj := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("skill: node %q depends_on unknown node %q", n.ID, dep)
			}
		}
	}
	for _, e := range g.Edges {
		if !ids[e.From] {
			return fmt.Errorf("skill: edge references unknown from_node %q", e.From)
		}
		if !ids[e.To] {
			return fmt.Errorf("skill: edge references unknown to_node %q", e.To)
		}
		adj[e.From] = append(adj[e.From], e.To)
	}
	// depends_on also constrains ordering; include it in the cycle check.
	for _, n := range g.Nodes {
		adj[n.ID] = append(adj[n.ID], n.DependsOn...)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))
	var visit func(string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("skill: graph contains a cycle through %q", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, n := range g.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/skillflow/skillflow/internal/skill"
)

// skillIndex is the in-memory mapping skill_id -> latest Meta, scanned once
// at startup and kept in sync by every subsequent create/update/delete.
// Guarded by a single mutex; updates are small and serialised (spec.md §5).
type skillIndex struct {
	mu   sync.RWMutex
	byID map[string]skill.Meta
}

func newSkillIndex() *skillIndex {
	return &skillIndex{byID: make(map[string]skill.Meta)}
}

// scan walks skillsDir and loads every meta.json into the index. A skill
// directory with a missing or corrupt meta.json is skipped with a log line
// rather than aborting the scan.
func (idx *skillIndex) scan(skillsDir string) error {
	entries, err := os.ReadDir(skillsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %q: %w", skillsDir, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		metaPath := filepath.Join(skillsDir, e.Name(), "meta.json")
		var m skill.Meta
		if err := readJSON(metaPath, &m); err != nil {
			if !os.IsNotExist(err) {
				logSkipped("skill meta", metaPath, err)
			}
			continue
		}
		idx.byID[m.ID] = m
	}
	return nil
}

func (idx *skillIndex) set(m skill.Meta) {
	idx.mu.Lock()
	idx.byID[m.ID] = m
	idx.mu.Unlock()
}

func (idx *skillIndex) delete(id string) {
	idx.mu.Lock()
	delete(idx.byID, id)
	idx.mu.Unlock()
}

func (idx *skillIndex) get(id string) (skill.Meta, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.byID[id]
	return m, ok
}

func (idx *skillIndex) list() []skill.Meta {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]skill.Meta, 0, len(idx.byID))
	for _, m := range idx.byID {
		out = append(out, m)
	}
	return out
}

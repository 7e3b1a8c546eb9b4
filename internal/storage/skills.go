package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/skillflow/skillflow/internal/skill"
)

// SaveSkill writes a new immutable version file plus the refreshed listing
// meta, and updates the in-memory index. Callers (the skill manager) are
// responsible for setting s.Version correctly (1 for create, prior+1 for
// update) — Store does not invent version numbers.
func (s *Store) SaveSkill(sk skill.Skill) error {
	if err := writeJSONAtomic(s.skillVersionPath(sk.ID, sk.Version), sk); err != nil {
		return fmt.Errorf("storage: save skill version %q v%d: %w", sk.ID, sk.Version, err)
	}
	meta := skill.Meta{
		ID:          sk.ID,
		Name:        sk.Name,
		Version:     sk.Version,
		Description: sk.Description,
		Tags:        sk.Tags,
		CreatedAt:   sk.CreatedAt,
		UpdatedAt:   sk.UpdatedAt,
		Author:      sk.Author,
	}
	if err := writeJSONAtomic(s.skillMetaPath(sk.ID), meta); err != nil {
		return fmt.Errorf("storage: save skill meta %q: %w", sk.ID, err)
	}
	s.idx.set(meta)
	return nil
}

// LoadSkill reads the full content of one skill version from disk.
func (s *Store) LoadSkill(id string, version int) (skill.Skill, error) {
	var sk skill.Skill
	path := s.skillVersionPath(id, version)
	if err := readJSON(path, &sk); err != nil {
		return skill.Skill{}, fmt.Errorf("storage: load skill %q v%d: %w", id, version, err)
	}
	return sk, nil
}

// LoadLatestSkill loads the version named in the in-memory index's Meta.
func (s *Store) LoadLatestSkill(id string) (skill.Skill, error) {
	meta, ok := s.idx.get(id)
	if !ok {
		return skill.Skill{}, fmt.Errorf("storage: skill %q not found", id)
	}
	return s.LoadSkill(id, meta.Version)
}

// SkillVersionMtime returns the on-disk modification time of one version
// file, used by the skill cache to detect staleness.
func (s *Store) SkillVersionMtime(id string, version int) (time.Time, error) {
	fi, err := os.Stat(s.skillVersionPath(id, version))
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: stat skill version %q v%d: %w", id, version, err)
	}
	return fi.ModTime(), nil
}

// GetMeta returns the indexed listing form for id.
func (s *Store) GetMeta(id string) (skill.Meta, bool) {
	return s.idx.get(id)
}

// ListMeta returns the listing form of every skill in the index.
func (s *Store) ListMeta() []skill.Meta {
	return s.idx.list()
}

// DeleteSkill removes id from the in-memory index. With hard=true the
// on-disk directory (all versions) is also removed; otherwise the versions
// remain on disk but the skill is no longer listed or loadable by id.
func (s *Store) DeleteSkill(id string, hard bool) error {
	s.idx.delete(id)
	if !hard {
		return nil
	}
	if err := os.RemoveAll(s.skillDir(id)); err != nil {
		return fmt.Errorf("storage: hard-delete skill %q: %w", id, err)
	}
	return nil
}

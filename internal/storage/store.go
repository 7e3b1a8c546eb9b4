package storage

import (
	"fmt"
	"log"
	"path/filepath"
)

// Store is the root of SkillFlow's filesystem layer, rooted at one data
// directory:
//
//	skills/<skill_id>/meta.json    — latest listing form
//	skills/<skill_id>/vNNNN.json   — full skill content per version
//	sessions/<session_id>.json     — sealed recording sessions
//	runs/YYYY-MM-DD/<run_id>.jsonl — append-only per-node execution records
//	registry/servers.json          — server registry
//
// Store owns the in-memory skill index (§4.C: "on init, scan skills/ and
// load each meta.json"); all other state is read straight from disk.
type Store struct {
	root string
	idx  *skillIndex
}

// Open creates a Store rooted at dir and scans skills/ to populate the
// in-memory index. Open creates no directories: a missing skills/ is read
// as empty, and each directory is created on its first write.
func Open(dir string) (*Store, error) {
	s := &Store{root: dir, idx: newSkillIndex()}
	if err := s.idx.scan(s.skillsDir()); err != nil {
		return nil, fmt.Errorf("storage: scan skills dir: %w", err)
	}
	return s, nil
}

func (s *Store) skillsDir() string    { return filepath.Join(s.root, "skills") }
func (s *Store) sessionsDir() string  { return filepath.Join(s.root, "sessions") }
func (s *Store) runsDir() string      { return filepath.Join(s.root, "runs") }
func (s *Store) registryDir() string  { return filepath.Join(s.root, "registry") }
func (s *Store) registryPath() string { return filepath.Join(s.registryDir(), "servers.json") }

func (s *Store) skillDir(id string) string     { return filepath.Join(s.skillsDir(), id) }
func (s *Store) skillMetaPath(id string) string { return filepath.Join(s.skillDir(id), "meta.json") }
func (s *Store) skillVersionPath(id string, version int) string {
	return filepath.Join(s.skillDir(id), fmt.Sprintf("v%04d.json", version))
}
func (s *Store) sessionPath(id string) string { return filepath.Join(s.sessionsDir(), id+".json") }

func logSkipped(what, path string, err error) {
	log.Printf("[Storage] skipping corrupt %s %q: %v", what, path, err)
}

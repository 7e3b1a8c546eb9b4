package storage

import (
	"github.com/skillflow/skillflow/internal/config"
)

// LoadRegistry reads registry/servers.json, normalising either top-level
// key via internal/config. A missing or corrupt file yields an empty
// registry rather than an error (spec.md §4.C).
func (s *Store) LoadRegistry() map[string]config.ServerSpec {
	return config.LoadRegistry(s.registryPath())
}

// SaveRegistry writes the given server specs back to registry/servers.json.
func (s *Store) SaveRegistry(specs map[string]config.ServerSpec) error {
	return config.SaveRegistry(s.registryPath(), specs)
}

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerSpec describes one upstream MCP server connection after
// normalisation: defaults filled in, metadata coerced to a non-nil map.
type ServerSpec struct {
	Name      string            `json:"-"` // populated from the registry map key
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       []string          `json:"env,omitempty"`
	Dir       string            `json:"dir,omitempty"`
	URL       string            `json:"url,omitempty"`
	Enabled   bool              `json:"enabled"`
	Meta      map[string]string `json:"_meta,omitempty"`
}

// rawRegistry mirrors the on-disk shape before normalisation; the
// top-level key may be either "mcpServers" or "servers" (spec.md §4.K).
type rawRegistry struct {
	MCPServers map[string]rawServerSpec `json:"mcpServers" yaml:"mcpServers"`
	Servers    map[string]rawServerSpec `json:"servers" yaml:"servers"`
}

type rawServerSpec struct {
	Transport string            `json:"transport" yaml:"transport"`
	Command   string            `json:"command" yaml:"command"`
	Args      []string          `json:"args" yaml:"args"`
	Env       []string          `json:"env" yaml:"env"`
	Dir       string            `json:"dir" yaml:"dir"`
	URL       string            `json:"url" yaml:"url"`
	Enabled   *bool             `json:"enabled" yaml:"enabled"`
	Meta      map[string]string `json:"_meta" yaml:"_meta"`
}

// LoadRegistry reads a server registry file at path, normalises it, and
// returns one ServerSpec per server id. A server entry missing a command
// (for stdio transports) is skipped with a log line rather than rejecting
// the whole registry. A missing or corrupt file yields an empty registry,
// never an error — spec.md §4.C: "a corrupt registry returns an empty
// registry rather than crashing the process."
func LoadRegistry(path string) map[string]ServerSpec {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Config] registry %q: read error: %v", path, err)
		}
		return map[string]ServerSpec{}
	}

	var raw rawRegistry
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("[Config] registry %q: parse error, using empty registry: %v", path, err)
		return map[string]ServerSpec{}
	}
	return normaliseRegistry(path, raw)
}

func normaliseRegistry(path string, raw rawRegistry) map[string]ServerSpec {
	entries := raw.MCPServers
	if len(entries) == 0 {
		entries = raw.Servers
	}

	specs := make(map[string]ServerSpec, len(entries))
	for name, r := range entries {
		if r.Transport == "" || r.Transport == "stdio" {
			if r.Command == "" {
				log.Printf("[Config] registry %q: server %q has no command for transport %q, skipping", path, name, orDefault(r.Transport, "stdio"))
				continue
			}
		}
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		meta := r.Meta
		if meta == nil {
			meta = map[string]string{}
		}
		specs[name] = ServerSpec{
			Name:      name,
			Transport: orDefault(r.Transport, "stdio"),
			Command:   r.Command,
			Args:      r.Args,
			Env:       r.Env,
			Dir:       r.Dir,
			URL:       r.URL,
			Enabled:   enabled,
			Meta:      meta,
		}
	}
	return specs
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SaveRegistry writes specs back to path as a "mcpServers"-keyed registry,
// two-space indented, matching the on-disk convention the rest of the
// storage layer uses (spec.md §4.C: "All JSON; UTF-8; two-space indent
// preferred").
func SaveRegistry(path string, specs map[string]ServerSpec) error {
	out := rawRegistry{MCPServers: make(map[string]rawServerSpec, len(specs))}
	for name, s := range specs {
		enabled := s.Enabled
		out.MCPServers[name] = rawServerSpec{
			Transport: s.Transport,
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			Dir:       s.Dir,
			URL:       s.URL,
			Enabled:   &enabled,
			Meta:      s.Meta,
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal registry %q: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write registry %q: %w", path, err)
	}
	return nil
}

// ExportRegistryYAML writes specs to path in YAML form, for operators who
// keep their server registry under version control alongside other YAML
// infrastructure config rather than as raw JSON.
func ExportRegistryYAML(path string, specs map[string]ServerSpec) error {
	out := rawRegistry{MCPServers: make(map[string]rawServerSpec, len(specs))}
	for name, s := range specs {
		enabled := s.Enabled
		out.MCPServers[name] = rawServerSpec{
			Transport: s.Transport,
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			Dir:       s.Dir,
			URL:       s.URL,
			Enabled:   &enabled,
			Meta:      s.Meta,
		}
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("config: marshal registry %q as yaml: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write registry %q: %w", path, err)
	}
	return nil
}

// ImportRegistryYAML reads a YAML-form registry at path and normalises it
// the same way LoadRegistry does for JSON. A missing or corrupt file
// yields an empty registry rather than an error, for the same reason
// LoadRegistry does.
func ImportRegistryYAML(path string) map[string]ServerSpec {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Config] registry %q: read error: %v", path, err)
		}
		return map[string]ServerSpec{}
	}

	var raw rawRegistry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		log.Printf("[Config] registry %q: yaml parse error, using empty registry: %v", path, err)
		return map[string]ServerSpec{}
	}
	return normaliseRegistry(path, raw)
}

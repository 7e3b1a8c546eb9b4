package config

import (
	"os"
	"path/filepath"
	"testing"
)

// ── LoadRegistry ────────────────────────────────────────────────────────────

func TestLoadRegistry_MissingFile(t *testing.T) {
	specs := LoadRegistry(filepath.Join(t.TempDir(), "nonexistent.json"))
	if len(specs) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(specs))
	}
}

func TestLoadRegistry_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	specs := LoadRegistry(path)
	if len(specs) != 0 {
		t.Errorf("expected empty registry for corrupt file, got %d entries", len(specs))
	}
}

func TestLoadRegistry_McpServersKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	body := `{"mcpServers": {"files": {"command": "mcp-server-files", "args": ["--root", "."]}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	specs := LoadRegistry(path)
	s, ok := specs["files"]
	if !ok {
		t.Fatal("expected server \"files\" in registry")
	}
	if s.Transport != "stdio" {
		t.Errorf("Transport = %q, want default \"stdio\"", s.Transport)
	}
	if !s.Enabled {
		t.Error("Enabled should default to true")
	}
	if s.Meta == nil {
		t.Error("Meta should default to a non-nil empty map")
	}
}

func TestLoadRegistry_ServersKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	body := `{"servers": {"web": {"transport": "websocket", "url": "ws://localhost:9000"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	specs := LoadRegistry(path)
	s, ok := specs["web"]
	if !ok {
		t.Fatal("expected server \"web\" in registry")
	}
	if s.Transport != "websocket" {
		t.Errorf("Transport = %q, want %q", s.Transport, "websocket")
	}
	if s.URL != "ws://localhost:9000" {
		t.Errorf("URL = %q", s.URL)
	}
}

func TestLoadRegistry_SkipsMissingCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	body := `{"mcpServers": {"broken": {"transport": "stdio"}, "ok": {"command": "true"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	specs := LoadRegistry(path)
	if _, ok := specs["broken"]; ok {
		t.Error("server with no command should be skipped for stdio transport")
	}
	if _, ok := specs["ok"]; !ok {
		t.Error("server with a command should be kept")
	}
}

func TestLoadRegistry_ExplicitDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	body := `{"mcpServers": {"off": {"command": "true", "enabled": false}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	specs := LoadRegistry(path)
	if specs["off"].Enabled {
		t.Error("explicit enabled:false should be preserved")
	}
}

// ── round trip ──────────────────────────────────────────────────────────────

func TestSaveRegistry_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	in := map[string]ServerSpec{
		"files": {Name: "files", Transport: "stdio", Command: "mcp-server-files", Enabled: true, Meta: map[string]string{}},
	}
	if err := SaveRegistry(path, in); err != nil {
		t.Fatalf("SaveRegistry: %v", err)
	}
	out := LoadRegistry(path)
	s, ok := out["files"]
	if !ok {
		t.Fatal("expected \"files\" after round trip")
	}
	if s.Command != "mcp-server-files" {
		t.Errorf("Command = %q", s.Command)
	}
}

// ── YAML import/export ──────────────────────────────────────────────────────

func TestExportImportRegistryYAML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	in := map[string]ServerSpec{
		"files": {Name: "files", Transport: "stdio", Command: "mcp-server-files", Enabled: true, Meta: map[string]string{}},
	}
	if err := ExportRegistryYAML(path, in); err != nil {
		t.Fatalf("ExportRegistryYAML: %v", err)
	}
	out := ImportRegistryYAML(path)
	s, ok := out["files"]
	if !ok {
		t.Fatal("expected \"files\" after round trip")
	}
	if s.Command != "mcp-server-files" {
		t.Errorf("Command = %q", s.Command)
	}
	if s.Transport != "stdio" {
		t.Errorf("Transport = %q, want \"stdio\"", s.Transport)
	}
}

func TestImportRegistryYAML_MissingFile(t *testing.T) {
	specs := ImportRegistryYAML(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if len(specs) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(specs))
	}
}

func TestImportRegistryYAML_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	specs := ImportRegistryYAML(path)
	if len(specs) != 0 {
		t.Errorf("expected empty registry for corrupt file, got %d entries", len(specs))
	}
}

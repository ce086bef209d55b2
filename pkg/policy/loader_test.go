package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := newTestLoader()
	policyFile := filepath.Join(t.TempDir(), "tag-guard.rego")

	regoContent := `# Requires tags on every new resource
# severity: error
package custom.tag_guard

import rego.v1

deny contains "missing tags" if {
	false
}
`
	writeFile(t, policyFile, regoContent)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "tag-guard" {
		t.Errorf("Name = %q, want tag-guard", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Requires tags on every new resource" {
		t.Errorf("Description = %q", policy.Description)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Severity = %q", policy.Severity)
	}
	if !policy.Enabled || policy.Source != policyFile {
		t.Errorf("policy = %+v", policy)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := newTestLoader()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "named.json"), `{
		"name": "from-json",
		"description": "JSON policy",
		"rego": "package j\n",
		"enabled": true,
		"builtin": true
	}`)

	policy, err := loader.loadFromFile(context.Background(), filepath.Join(dir, "named.json"))
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "from-json" || policy.Severity != SeverityWarning {
		t.Errorf("policy = %+v", policy)
	}
	if policy.Builtin {
		t.Error("files can never declare built-ins")
	}

	writeFile(t, filepath.Join(dir, "unnamed.json"), `{"rego": "package u\n"}`)
	policy, err = loader.loadFromFile(context.Background(), filepath.Join(dir, "unnamed.json"))
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "unnamed" {
		t.Errorf("Name = %q, want file name", policy.Name)
	}

	writeFile(t, filepath.Join(dir, "empty.json"), `{"name": "empty"}`)
	if _, err := loader.loadFromFile(context.Background(), filepath.Join(dir, "empty.json")); err == nil {
		t.Error("expected error for policy without rego")
	}

	writeFile(t, filepath.Join(dir, "bad.json"), `{not json`)
	if _, err := loader.loadFromFile(context.Background(), filepath.Join(dir, "bad.json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := newTestLoader()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.rego"), "package a\n")
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), "package b\n")
	writeFile(t, filepath.Join(dir, "nested", "deeper", "c.json"), `{"rego": "package c\n"}`)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 3 {
		t.Fatalf("got %d policies, want 3", len(policies))
	}
}

func TestLoadFromPaths_Errors(t *testing.T) {
	loader := newTestLoader()

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Error("expected error for missing path")
	}

	txt := filepath.Join(t.TempDir(), "policy.txt")
	writeFile(t, txt, "x")
	if _, err := loader.LoadFromPaths(context.Background(), []string{txt}); err == nil {
		t.Error("expected error for unsupported file type")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantDesc     string
		wantSeverity Severity
	}{
		{"none", "package x\n", "", SeverityWarning},
		{"multi line", "# First line\n# second line\npackage x\n", "First line second line", SeverityWarning},
		{"after package", "package x\n\n# Explains x\n\ndeny contains 1 if false\n", "Explains x", SeverityWarning},
		{"severity", "# Blocks\n# severity: Critical\npackage x\n", "Blocks", SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, sev := parseHeader(tt.content)
			if desc != tt.wantDesc || sev != tt.wantSeverity {
				t.Errorf("parseHeader() = %q, %q; want %q, %q", desc, sev, tt.wantDesc, tt.wantSeverity)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := newTestLoader()
	path := filepath.Join(t.TempDir(), "p.rego")
	writeFile(t, path, "package one\n")

	first, _ := loader.loadFromFile(context.Background(), path)
	writeFile(t, path, "package two\n")

	cached, _ := loader.loadFromFile(context.Background(), path)
	if cached.Rego != first.Rego {
		t.Error("second load should come from the cache")
	}

	loader.ClearCache()
	fresh, _ := loader.loadFromFile(context.Background(), path)
	if fresh.Rego != "package two\n" {
		t.Errorf("Rego = %q after ClearCache", fresh.Rego)
	}
}

package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestWorkspaceForLayout(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		namespace, project, site string
		want                     []string
	}{
		{"ns", "", "", []string{"ns"}},
		{"ns", "proj", "", []string{"ns", "proj"}},
		{"ns", "", "eu", []string{"ns", "eu"}},
		{"ns", "proj", "eu", []string{"ns", "eu", "proj"}},
	}

	for _, tt := range tests {
		got, err := m.WorkspaceFor(tt.namespace, tt.project, tt.site)
		if err != nil {
			t.Fatalf("WorkspaceFor(%q, %q, %q) error = %v", tt.namespace, tt.project, tt.site, err)
		}
		want := filepath.Join(append([]string{m.Root()}, tt.want...)...)
		if got != want {
			t.Errorf("WorkspaceFor(%q, %q, %q) = %q, want %q", tt.namespace, tt.project, tt.site, got, want)
		}
		if info, err := os.Stat(got); err != nil || !info.IsDir() {
			t.Errorf("workspace %q was not created", got)
		}
	}
}

func TestWorkspaceForIdempotent(t *testing.T) {
	m := newTestManager(t)

	first, err := m.WorkspaceFor("ns", "proj", "")
	if err != nil {
		t.Fatalf("WorkspaceFor() error = %v", err)
	}

	// A marker file proves the second call does not recreate the tree.
	marker := filepath.Join(first, "marker")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, _ := os.Stat(first)

	second, err := m.WorkspaceFor("ns", "proj", "")
	if err != nil {
		t.Fatalf("WorkspaceFor() second call error = %v", err)
	}
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
	after, _ := os.Stat(first)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("second call modified the workspace directory")
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("second call removed workspace contents")
	}
}

func TestWorkspaceForRejectsBadIdentifiers(t *testing.T) {
	m := newTestManager(t)

	cases := [][3]string{
		{"", "", ""},
		{"../etc", "", ""},
		{"ns", "a/b", ""},
		{"ns", "", ".."},
		{"ns", "x..y", ""},
		{".hidden", "", ""},
	}
	for _, c := range cases {
		if _, err := m.WorkspaceFor(c[0], c[1], c[2]); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("WorkspaceFor(%q, %q, %q) error = %v, want ErrInvalidIdentifier", c[0], c[1], c[2], err)
		}
	}
}

type testResource struct {
	Count    int               `json:"count"`
	Enabled  bool              `json:"enabled"`
	Triggers map[string]string `json:"triggers,omitempty"`
}

type testConfig struct {
	Terraform map[string]string                  `json:"terraform"`
	Resource  map[string]map[string]testResource `json:"resource"`
	Locals    []string                           `json:"locals,omitempty"`
}

func TestRenderedConfigRoundTrip(t *testing.T) {
	m := newTestManager(t)
	dir, _ := m.WorkspaceFor("ns", "proj", "")

	config := testConfig{
		Terraform: map[string]string{"required_version": ">= 1.5"},
		Resource: map[string]map[string]testResource{
			"null_resource": {
				"a": {Count: 3, Enabled: true, Triggers: map[string]string{"id": "x"}},
			},
		},
		Locals: []string{"x", "y"},
	}

	path, err := m.WriteRenderedConfig(dir, config)
	if err != nil {
		t.Fatalf("WriteRenderedConfig() error = %v", err)
	}
	if filepath.Base(path) != ConfigFile {
		t.Errorf("config written to %q", path)
	}

	data, _ := os.ReadFile(path)
	if len(data) == 0 || data[0] != '{' || data[1] != '\n' {
		t.Error("config should be pretty-printed")
	}

	var got testConfig
	if err := m.ReadRenderedConfig(dir, &got); err != nil {
		t.Fatalf("ReadRenderedConfig() error = %v", err)
	}
	if !reflect.DeepEqual(got, config) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, config)
	}
}

func TestRenderedConfigKeepsIntegers(t *testing.T) {
	m := newTestManager(t)
	dir, _ := m.WorkspaceFor("ns", "", "")

	config := map[string]map[string]int{"resource": {"count": 3}}
	if _, err := m.WriteRenderedConfig(dir, config); err != nil {
		t.Fatalf("WriteRenderedConfig() error = %v", err)
	}

	var got map[string]map[string]int
	if err := m.ReadRenderedConfig(dir, &got); err != nil {
		t.Fatalf("ReadRenderedConfig() error = %v", err)
	}
	if !reflect.DeepEqual(got, config) {
		t.Errorf("got %#v, want %#v", got, config)
	}
}

func TestReadRenderedConfigMalformed(t *testing.T) {
	m := newTestManager(t)
	dir, _ := m.WorkspaceFor("ns", "", "")

	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(`{"resource": `), 0o644); err != nil {
		t.Fatal(err)
	}

	var config map[string]interface{}
	err := m.ReadRenderedConfig(dir, &config)
	if !IsWorkspaceError(err) {
		t.Fatalf("ReadRenderedConfig() error = %v, want workspace error", err)
	}

	var wsErr *Error
	errors.As(err, &wsErr)
	if wsErr.Op != "read config" {
		t.Errorf("Op = %q", wsErr.Op)
	}
}

func TestMetadata(t *testing.T) {
	m := newTestManager(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	dir, _ := m.WorkspaceFor("ns", "proj", "")

	md, err := m.ReadMetadata(dir)
	if err != nil || len(md) != 0 {
		t.Fatalf("ReadMetadata() on empty workspace = %v, %v", md, err)
	}

	if err := m.WriteMetadata(dir, Metadata{"owner": "team-a"}); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}

	md, err = m.UpdateMetadata(dir, Metadata{"revision": "abc"})
	if err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	if md["owner"] != "team-a" || md["revision"] != "abc" {
		t.Errorf("merged metadata = %v", md)
	}
	ts, ok := md.LastUpdated()
	if !ok || !ts.Equal(fixed) {
		t.Errorf("LastUpdated() = %v, %v; want %v", ts, ok, fixed)
	}

	if err := os.WriteFile(filepath.Join(dir, MetadataFile), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadMetadata(dir); !IsWorkspaceError(err) {
		t.Errorf("ReadMetadata(malformed) error = %v, want workspace error", err)
	}
}

func TestCleanKeepsConfigAndState(t *testing.T) {
	m := newTestManager(t)
	dir, _ := m.WorkspaceFor("ns", "proj", "")

	if _, err := m.WriteRenderedConfig(dir, map[string]interface{}{}); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteMetadata(dir, Metadata{}); err != nil {
		t.Fatal(err)
	}

	mustWrite := func(name string) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(".terraform/providers/registry/x")
	mustWrite(".terraform.lock.hcl")
	mustWrite(".terraform.tfstate.lock.info")
	mustWrite("tfplan")
	mustWrite("prod.tfplan")
	mustWrite("crash.log")
	mustWrite("terraform.tfstate")

	if !m.Initialized(dir) {
		t.Fatal("workspace with .terraform should be initialized")
	}

	removed, err := m.Clean(dir)
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	sort.Strings(removed)
	want := []string{".terraform", ".terraform.lock.hcl", ".terraform.tfstate.lock.info", "crash.log", "prod.tfplan", "tfplan"}
	if !reflect.DeepEqual(removed, want) {
		t.Errorf("removed = %v, want %v", removed, want)
	}

	for _, keep := range []string{ConfigFile, MetadataFile, "terraform.tfstate"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Errorf("%s should survive Clean()", keep)
		}
	}
	if m.Initialized(dir) {
		t.Error("Initialized() should reflect the cleaned disk state")
	}

	removed, err = m.Clean(dir)
	if err != nil || len(removed) != 0 {
		t.Errorf("second Clean() = %v, %v; want nothing removed", removed, err)
	}
}

func TestInitializedByLockFile(t *testing.T) {
	m := newTestManager(t)
	dir, _ := m.WorkspaceFor("ns", "", "")

	if m.Initialized(dir) {
		t.Fatal("fresh workspace should not be initialized")
	}
	if err := os.WriteFile(filepath.Join(dir, ".terraform.lock.hcl"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !m.Initialized(dir) {
		t.Error("lock file should mark the workspace initialized")
	}
}

func TestRemove(t *testing.T) {
	m := newTestManager(t)
	dir, _ := m.WorkspaceFor("ns", "proj", "")
	if _, err := m.WriteRenderedConfig(dir, map[string]interface{}{"a": "b"}); err != nil {
		t.Fatal(err)
	}

	if err := m.Remove(dir); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("workspace should be gone")
	}

	for _, outside := range []string{m.Root(), filepath.Dir(m.Root()), t.TempDir()} {
		if err := m.Remove(outside); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("Remove(%q) error = %v, want ErrOutsideRoot", outside, err)
		}
	}
}

func TestList(t *testing.T) {
	m := newTestManager(t)

	infos, err := m.List()
	if err != nil || len(infos) != 0 {
		t.Fatalf("List() on empty base = %v, %v", infos, err)
	}

	a, _ := m.WorkspaceFor("ns", "a", "")
	b, _ := m.WorkspaceFor("ns", "b", "eu")
	if _, err := m.WorkspaceFor("ns", "empty", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.WriteRenderedConfig(a, map[string]interface{}{}); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteMetadata(b, Metadata{}); err != nil {
		t.Fatal(err)
	}

	infos, err = m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("List() = %+v, want 2 workspaces", infos)
	}
	if infos[0].Name != "ns/a" || infos[1].Name != "ns/eu/b" {
		t.Errorf("names = %q, %q", infos[0].Name, infos[1].Name)
	}
	if infos[1].LastUpdated.IsZero() {
		t.Error("LastUpdated should come from metadata")
	}
}

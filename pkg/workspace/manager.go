// Package workspace manages the directories the tool runs in: their
// layout, the rendered configuration, a metadata sidecar and cleanup of
// tool-generated artifacts.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/tfdriver/pkg/telemetry"
)

const (
	// WorkspacesDir is the fixed segment below the base directory.
	WorkspacesDir = "workspaces"
	// ConfigFile is the rendered configuration the tool consumes.
	ConfigFile = "main.tf.json"
	// MetadataFile is the JSON sidecar describing the workspace.
	MetadataFile = "metadata.json"
	// LastUpdatedKey is refreshed on every metadata write.
	LastUpdatedKey = "last_updated"

	stateCacheDir = ".terraform"
	lockFile      = ".terraform.lock.hcl"
)

// transientFiles are tool artifacts removed by Clean. Local state
// (terraform.tfstate and its backup) is not transient and is kept.
var transientFiles = []string{
	lockFile,
	".terraform.tfstate.lock.info",
	"tfplan",
	"crash.log",
}

var transientPatterns = []string{"*.tfplan"}

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// key identifies a workspace.
type key struct {
	Namespace string `validate:"required,wsident"`
	Project   string `validate:"omitempty,wsident"`
	Site      string `validate:"omitempty,wsident"`
}

// Metadata is the free-form sidecar stored next to the rendered config.
type Metadata map[string]interface{}

// LastUpdated parses the last_updated timestamp, if present.
func (m Metadata) LastUpdated() (time.Time, bool) {
	s, ok := m[LastUpdatedKey].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Info describes an existing workspace.
type Info struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Initialized bool      `json:"initialized"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// Manager derives and maintains workspace directories below a base
// directory. It holds no per-workspace state; every query reads the disk.
type Manager struct {
	baseDir   string
	logger    *telemetry.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewManager creates a manager rooted at baseDir.
func NewManager(baseDir string, logger *telemetry.Logger) (*Manager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	v := validator.New()
	if err := v.RegisterValidation("wsident", validIdentifier); err != nil {
		return nil, fmt.Errorf("failed to register validator: %w", err)
	}

	return &Manager{
		baseDir:   abs,
		logger:    logger.NewComponentLogger("workspace"),
		validator: v,
		now:       time.Now,
	}, nil
}

func validIdentifier(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return identifierRe.MatchString(s) && !strings.Contains(s, "..")
}

// Root returns <base>/workspaces.
func (m *Manager) Root() string {
	return filepath.Join(m.baseDir, WorkspacesDir)
}

// Path derives <base>/workspaces/<namespace>[/<site>][/<project>] without
// touching the filesystem.
func (m *Manager) Path(namespace, project, site string) (string, error) {
	k := key{Namespace: namespace, Project: project, Site: site}
	if err := m.validator.Struct(k); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}

	parts := []string{m.Root(), namespace}
	if site != "" {
		parts = append(parts, site)
	}
	if project != "" {
		parts = append(parts, project)
	}
	return filepath.Join(parts...), nil
}

// WorkspaceFor returns the workspace path, creating the tree if it does not
// exist yet. Repeated calls return the same path and do nothing further.
func (m *Manager) WorkspaceFor(namespace, project, site string) (string, error) {
	dir, err := m.Path(namespace, project, site)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return dir, nil
	case err == nil:
		return "", &Error{Op: "create", Path: dir, Err: fmt.Errorf("exists and is not a directory")}
	case !errors.Is(err, fs.ErrNotExist):
		return "", &Error{Op: "stat", Path: dir, Err: err}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &Error{Op: "create", Path: dir, Err: err}
	}
	m.logger.InfoEvent().Str("path", dir).Msg("created workspace")
	return dir, nil
}

// WriteRenderedConfig writes config as pretty-printed JSON to the
// workspace's main.tf.json.
func (m *Manager) WriteRenderedConfig(dir string, config interface{}) (string, error) {
	path := filepath.Join(dir, ConfigFile)
	if err := writeJSON(path, config); err != nil {
		return "", &Error{Op: "write config", Path: path, Err: err}
	}
	m.logger.DebugEvent().Str("path", path).Msg("wrote rendered config")
	return path, nil
}

// ReadRenderedConfig decodes main.tf.json into v, which should have the
// type that was written so numbers keep their Go type. A missing or
// malformed file is a workspace *Error.
func (m *Manager) ReadRenderedConfig(dir string, v interface{}) error {
	path := filepath.Join(dir, ConfigFile)
	if err := readJSON(path, v); err != nil {
		return &Error{Op: "read config", Path: path, Err: err}
	}
	return nil
}

// ReadMetadata loads metadata.json. A missing file yields empty metadata.
func (m *Manager) ReadMetadata(dir string) (Metadata, error) {
	path := filepath.Join(dir, MetadataFile)
	md := Metadata{}
	if err := readJSON(path, &md); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, nil
		}
		return nil, &Error{Op: "read metadata", Path: path, Err: err}
	}
	if md == nil {
		md = Metadata{}
	}
	return md, nil
}

// WriteMetadata replaces metadata.json, stamping last_updated.
func (m *Manager) WriteMetadata(dir string, md Metadata) error {
	out := make(Metadata, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[LastUpdatedKey] = m.now().UTC().Format(time.RFC3339Nano)

	path := filepath.Join(dir, MetadataFile)
	if err := writeJSON(path, out); err != nil {
		return &Error{Op: "write metadata", Path: path, Err: err}
	}
	return nil
}

// UpdateMetadata merges values into the existing metadata.
func (m *Manager) UpdateMetadata(dir string, values Metadata) (Metadata, error) {
	md, err := m.ReadMetadata(dir)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		md[k] = v
	}
	if err := m.WriteMetadata(dir, md); err != nil {
		return nil, err
	}
	return m.ReadMetadata(dir)
}

// Clean removes tool-generated transient artifacts: the .terraform cache,
// lock files, plan files and crash logs. The rendered configuration,
// metadata and local state are kept. It returns the removed names.
func (m *Manager) Clean(dir string) ([]string, error) {
	if err := m.checkInside(dir); err != nil {
		return nil, err
	}

	var removed []string
	remove := func(name string) error {
		path := filepath.Join(dir, name)
		if _, err := os.Lstat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		removed = append(removed, name)
		return nil
	}

	if err := remove(stateCacheDir); err != nil {
		return removed, &Error{Op: "clean", Path: dir, Err: err}
	}
	for _, name := range transientFiles {
		if err := remove(name); err != nil {
			return removed, &Error{Op: "clean", Path: dir, Err: err}
		}
	}
	for _, pattern := range transientPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return removed, &Error{Op: "clean", Path: dir, Err: err}
		}
		for _, match := range matches {
			if err := remove(filepath.Base(match)); err != nil {
				return removed, &Error{Op: "clean", Path: dir, Err: err}
			}
		}
	}

	m.logger.InfoEvent().Str("path", dir).Strs("removed", removed).Msg("cleaned workspace")
	return removed, nil
}

// Remove deletes the whole workspace tree.
func (m *Manager) Remove(dir string) error {
	if err := m.checkInside(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return &Error{Op: "remove", Path: dir, Err: err}
	}
	m.logger.InfoEvent().Str("path", dir).Msg("removed workspace")
	return nil
}

// Initialized reports whether init has run in dir. It always probes the
// disk.
func (m *Manager) Initialized(dir string) bool {
	return Initialized(dir)
}

// Initialized reports whether dir holds a .terraform directory or a
// dependency lock file.
func Initialized(dir string) bool {
	if info, err := os.Stat(filepath.Join(dir, stateCacheDir)); err == nil && info.IsDir() {
		return true
	}
	_, err := os.Stat(filepath.Join(dir, lockFile))
	return err == nil
}

// List returns every directory below the workspaces root that holds a
// rendered config or metadata file, sorted by path.
func (m *Manager) List() ([]Info, error) {
	root := m.Root()
	var infos []Info

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == stateCacheDir {
			return filepath.SkipDir
		}
		if !fileExists(filepath.Join(path, ConfigFile)) && !fileExists(filepath.Join(path, MetadataFile)) {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		info := Info{
			Path:        path,
			Name:        filepath.ToSlash(rel),
			Initialized: Initialized(path),
		}
		if md, err := m.ReadMetadata(path); err == nil {
			if t, ok := md.LastUpdated(); ok {
				info.LastUpdated = t
			}
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "list", Path: root, Err: err}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func (m *Manager) checkInside(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return &Error{Op: "resolve", Path: dir, Err: err}
	}
	rel, err := filepath.Rel(m.Root(), abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &Error{Op: "resolve", Path: dir, Err: ErrOutsideRoot}
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	// Write to a temp file and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

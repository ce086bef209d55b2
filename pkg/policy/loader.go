package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadDelay debounces bursts of file events into one reload.
const ReloadDelay = 500 * time.Millisecond

// Loader reads custom policies from .rego and .json files. Parsed files
// are cached by path until they change on disk or ClearCache is called.
type Loader struct {
	log zerolog.Logger

	mu    sync.RWMutex
	files map[string]*Policy
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		log:   logger.With().Str("component", "policy-loader").Logger(),
		files: make(map[string]*Policy),
	}
}

// LoadFromPaths loads every policy named by paths. A path may be a file or
// a directory searched recursively. Broken files inside a directory are
// skipped with a warning; a broken file named directly is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
		if !info.IsDir() {
			p, err := l.loadFromFile(ctx, root)
			if err != nil {
				return nil, fmt.Errorf("policy path %s: %w", root, err)
			}
			out = append(out, *p)
			continue
		}

		files, err := policyFiles(root)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
		for _, file := range files {
			p, err := l.loadFromFile(ctx, file)
			if err != nil {
				l.log.Warn().Err(err).Str("path", file).Msg("skipping policy file")
				continue
			}
			out = append(out, *p)
		}
	}

	l.log.Debug().Int("policies", len(out)).Strs("paths", paths).Msg("loaded custom policies")
	return out, nil
}

// policyFiles lists the policy files below root in lexical order.
func policyFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			return nil
		case isPolicyFile(path):
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	l.mu.RLock()
	p, ok := l.files[path]
	l.mu.RUnlock()
	if ok {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch filepath.Ext(path) {
	case ".rego":
		p = decodeRego(path, data)
	case ".json":
		if p, err = decodeJSON(path, data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy file %s: want .rego or .json", path)
	}
	p.Source = path
	p.LoadedAt = time.Now()

	l.mu.Lock()
	l.files[path] = p
	l.mu.Unlock()

	l.log.Debug().Str("path", path).Str("policy", p.Name).Msg("parsed policy file")
	return p, nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// decodeRego names the policy after its file. The leading comment block
// becomes the description and a "# severity: <level>" line in it sets
// the severity of string deny entries.
func decodeRego(path string, data []byte) *Policy {
	src := string(data)
	desc, sev := parseHeader(src)
	return &Policy{
		Name:        baseName(path),
		Description: desc,
		Rego:        src,
		Severity:    sev,
		Enabled:     true,
		Tags:        []string{},
	}
}

// decodeJSON reads a serialized Policy. Files can never mark themselves
// as built-in.
func decodeJSON(path string, data []byte) (*Policy, error) {
	p := &Policy{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = baseName(path)
	}
	if strings.TrimSpace(p.Rego) == "" {
		return nil, fmt.Errorf("policy %s: rego is empty", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	p.Builtin = false
	return p, nil
}

// parseHeader reads the first comment block of a Rego module. A package
// clause before the block is allowed.
func parseHeader(src string) (string, Severity) {
	sev := SeverityWarning
	var words []string

	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		comment, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if len(words) == 0 && strings.HasPrefix(line, "package") {
				continue
			}
			break
		}
		comment = strings.TrimSpace(comment)
		if v, ok := strings.CutPrefix(comment, "severity:"); ok {
			sev = Severity(strings.ToLower(strings.TrimSpace(v)))
		} else if comment != "" {
			words = append(words, comment)
		}
	}
	return strings.Join(words, " "), sev
}

// Watch calls reload with a fresh load of paths whenever a policy file
// below them is written, created, removed or renamed. It returns once the
// watcher is running; the watcher stops with ctx.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}

	var added int
	for _, root := range paths {
		dirs, err := watchTargets(root)
		if err != nil {
			l.log.Warn().Err(err).Str("path", root).Msg("cannot watch policy path")
			continue
		}
		for _, dir := range dirs {
			if err := w.Add(dir); err != nil {
				l.log.Warn().Err(err).Str("path", dir).Msg("cannot watch policy path")
				continue
			}
			added++
		}
	}

	go l.watchLoop(ctx, w, paths, reload)

	l.log.Info().Int("watches", added).Msg("watching policy files")
	return nil
}

// watchTargets returns root itself for a file, or root and every
// directory below it.
func watchTargets(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var dirs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}

const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

func (l *Loader) watchLoop(ctx context.Context, w *fsnotify.Watcher, paths []string, reload func([]Policy) error) {
	defer w.Close()

	timer := time.NewTimer(ReloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&reloadOps == 0 || !isPolicyFile(ev.Name) {
				continue
			}
			l.log.Debug().Str("file", ev.Name).Stringer("op", ev.Op).Msg("policy file changed")
			l.forget(ev.Name)
			timer.Reset(ReloadDelay)

		case <-timer.C:
			if err := l.reload(ctx, paths, reload); err != nil {
				l.log.Error().Err(err).Msg("policy reload failed")
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.log.Error().Err(err).Msg("policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return errors.Join(errors.New("reloaded policies rejected"), err)
	}
	l.log.Info().Int("count", len(policies)).Msg("policies reloaded")
	return nil
}

func (l *Loader) forget(path string) {
	l.mu.Lock()
	delete(l.files, path)
	l.mu.Unlock()
}

// ClearCache drops every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.files = make(map[string]*Policy)
	l.mu.Unlock()
}

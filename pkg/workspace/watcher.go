package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/tfdriver/pkg/telemetry"
)

// DefaultDebounce collapses bursts of editor writes into one callback.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls back when the rendered config or metadata of a workspace
// changes on disk.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *telemetry.Logger
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches dir. A zero debounce uses DefaultDebounce.
func NewWatcher(dir string, debounce time.Duration, logger *telemetry.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory rather than the file: atomic renames replace
	// the file's inode.
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, &Error{Op: "watch", Path: dir, Err: err}
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger.NewComponentLogger("workspace-watcher"),
		watcher:  fsw,
	}, nil
}

// Run delivers debounced change notifications until ctx is done. The
// callback receives the base name of the last changed file in the burst.
func (w *Watcher) Run(ctx context.Context, onChange func(file string)) error {
	defer w.watcher.Close()

	w.logger.InfoEvent().Str("dir", w.dir).Msg("watching workspace")

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if name != ConfigFile && name != MetadataFile {
				continue
			}

			w.logger.DebugEvent().
				Str("file", name).
				Str("op", event.Op.String()).
				Msg("workspace file changed")

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() == nil {
					onChange(name)
				}
			})
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("watcher error")
		}
	}
}

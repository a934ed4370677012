package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before an update runs
const DefaultDebounce = 500 * time.Millisecond

// UpdateFunc runs one incremental index pass
type UpdateFunc func(ctx context.Context) error

// Options configures a Watcher
type Options struct {
	Root     string
	Exclude  []string // doublestar patterns over project-relative paths
	Debounce time.Duration
	Logger   *slog.Logger
}

// Stats counts what a Watcher has done
type Stats struct {
	Events     int64     `json:"events"`
	Updates    int64     `json:"updates"`
	Failures   int64     `json:"failures"`
	LastUpdate time.Time `json:"last_update"`
}

// Watcher runs an update after bursts of file system changes under a root.
// Updates run on the watcher's own goroutine, so they never overlap.
type Watcher struct {
	fs     *fsnotify.Watcher
	opts   Options
	update UpdateFunc
	log    *slog.Logger

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a watcher. Call Run to start it.
func New(opts Options, update UpdateFunc) (*Watcher, error) {
	if opts.Root == "" {
		return nil, errors.New("watch root cannot be empty")
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = abs

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		fs:     fw,
		opts:   opts,
		update: update,
		log:    opts.Logger.With("component", "watcher"),
	}, nil
}

// Run watches until ctx is cancelled. Events pending at cancellation are
// dropped; the next update picks them up.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()

	if err := w.addTree(w.opts.Root); err != nil {
		return fmt.Errorf("watch %s: %w", w.opts.Root, err)
	}
	w.log.Info("watching for changes", "root", w.opts.Root, "debounce", w.opts.Debounce)

	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				pending = true
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			w.runUpdate(ctx)
		}
	}
}

// handleEvent reports whether event should schedule an update
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, ok := w.relative(event.Name)
	if !ok || w.excluded(rel) {
		return false
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// Files created before the watch was added are only seen by walking
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn("failed to watch new directory", "path", rel, "error", err)
			}
			return w.hasFiles(event.Name)
		}
	}

	w.statsMu.Lock()
	w.stats.Events++
	w.statsMu.Unlock()
	w.log.Debug("change", "path", rel, "op", event.Op.String())
	return true
}

func (w *Watcher) runUpdate(ctx context.Context) {
	start := time.Now()
	err := w.update(ctx)

	w.statsMu.Lock()
	w.stats.Updates++
	w.stats.LastUpdate = time.Now()
	if err != nil {
		w.stats.Failures++
	}
	w.statsMu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("update failed", "error", err)
		}
		return
	}
	w.log.Info("update done", "elapsed", time.Since(start))
}

// Stats returns a snapshot of the watcher counters
func (w *Watcher) Stats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

// addTree watches dir and every non-excluded directory below it
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(path); ok && rel != "." && w.excluded(rel) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.log.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) hasFiles(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if rel, ok := w.relative(path); ok && path != dir && w.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, ok := w.relative(path)
		if ok && !w.excluded(rel) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.opts.Root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// excluded matches a path, or any of its parent directories, against the
// exclude patterns
func (w *Watcher) excluded(rel string) bool {
	for _, pattern := range w.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// "dir/**" also excludes "dir" itself
		if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
			return true
		}
	}
	return false
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watcher triggers pipeline re-runs on filesystem changes.
// Events are debounced: an editor save storm or a git checkout produces
// one trigger, not dozens.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/foundry/pkg/errors"
)

// DefaultDebounce is the quiet period required before a trigger fires.
const DefaultDebounce = 500 * time.Millisecond

// ignoredDirs are never watched: build output and VCS internals change
// on every run and would retrigger forever.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"artifacts":    true,
}

// Watcher observes a directory tree and invokes a callback after
// changes settle.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a watcher rooted at dir.
func New(root string) *Watcher {
	return &Watcher{root: root, debounce: DefaultDebounce, logger: slog.Default()}
}

// WithDebounce sets the quiet period before a trigger fires.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// WithLogger sets a custom logger for the watcher.
func (w *Watcher) WithLogger(logger *slog.Logger) *Watcher {
	w.logger = logger
	return w
}

// Watch blocks, invoking trigger after each settled burst of changes,
// until ctx is cancelled. The trigger runs on the watch goroutine, so a
// long-running trigger naturally coalesces events that arrive meanwhile.
func (w *Watcher) Watch(ctx context.Context, trigger func(ctx context.Context)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating filesystem watcher")
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			// New directories must be watched too.
			if event.Has(fsnotify.Create) {
				if err := w.addRecursive(fsw, event.Name); err != nil {
					w.logger.Debug("could not watch new path", "path", event.Name, "error", err)
				}
			}
			w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-fire:
			timer = nil
			fire = nil
			w.logger.Info("changes settled, triggering run")
			trigger(ctx)
		}
	}
}

// addRecursive registers dir and every subdirectory with the watcher.
// Non-directories are silently skipped so callers can pass event paths.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The path may have vanished between event and walk.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return errors.Wrapf(err, "watching %s", path)
		}
		return nil
	})
}

// ignored reports whether path falls in a directory the watcher skips.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if ignoredDirs[part] || strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

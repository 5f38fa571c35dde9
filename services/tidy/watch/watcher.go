// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports saves of tracked files.
//
// Editors often save by writing a temporary file and renaming it over the
// original, which replaces the inode. FileWatcher therefore watches the
// directory of each tracked file and filters events by path.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a debounced change to a tracked file.
type Change struct {
	// Path is the absolute path of the tracked file.
	Path string

	// Op is the last operation seen within the debounce window.
	Op Op

	// Time is when the change was detected.
	Time time.Time
}

// Op is the kind of change.
type Op int

const (
	// OpCreate means the file appeared, including rename-over saves.
	OpCreate Op = iota

	// OpWrite means the file was written in place.
	OpWrite

	// OpRemove means the file was deleted.
	OpRemove

	// OpRename means the file was moved away.
	OpRename
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Saved reports whether the file has new content on disk.
func (op Op) Saved() bool {
	return op == OpCreate || op == OpWrite
}

// Handler receives debounced changes, one entry per path.
type Handler func(changes []Change)

// Options configures a FileWatcher.
type Options struct {
	// Debounce is how long to wait for more events before flushing.
	// Default: 100ms
	Debounce time.Duration

	// BufferSize is the capacity of the event channel. Default: 256
	BufferSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Debounce:   100 * time.Millisecond,
		BufferSize: 256,
	}
}

// FileWatcher watches a set of files with debouncing.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single goroutine.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	files map[string]bool
	dirs  map[string]int

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New creates a watcher that calls handler with debounced changes.
//
// # Inputs
//
//   - handler: Called with batched changes after each debounce window.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *FileWatcher: Watcher with no files. Call Add, then Start.
//   - error: Non-nil if the OS watcher could not be created.
func New(handler Handler, opts *Options) (*FileWatcher, error) {
	o := DefaultOptions()
	if opts != nil {
		if opts.Debounce > 0 {
			o.Debounce = opts.Debounce
		}
		if opts.BufferSize > 0 {
			o.BufferSize = opts.BufferSize
		}
		o.Logger = opts.Logger
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:  watcher,
		handler:  handler,
		debounce: o.Debounce,
		logger:   o.Logger.With(slog.String("component", "file_watcher")),
		files:    make(map[string]bool),
		dirs:     make(map[string]int),
		changes:  make(chan Change, o.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Add starts tracking path. Adding a tracked path is a no-op.
func (w *FileWatcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[abs] {
		return nil
	}
	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[abs] = true
	return nil
}

// Remove stops tracking path. The directory watch is dropped with its last
// tracked file.
func (w *FileWatcher) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.files[abs] {
		return nil
	}
	delete(w.files, abs)
	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	if err := w.watcher.Remove(dir); err != nil {
		return fmt.Errorf("unwatching %s: %w", dir, err)
	}
	return nil
}

// Files returns the tracked paths, sorted.
func (w *FileWatcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (w *FileWatcher) tracked(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.files[filepath.Clean(path)]
}

// Start begins delivering changes. It returns immediately; watching stops
// when ctx is cancelled or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.processEvents(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.debounceLoop(ctx)
	}()
}

// Stop closes the watcher and waits for its goroutines.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("Closing watcher failed", slog.String("error", err.Error()))
		}
	})
	w.wg.Wait()
}

// processEvents filters fsnotify events down to tracked files.
func (w *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.tracked(event.Name) {
				continue
			}
			change := Change{
				Path: filepath.Clean(event.Name),
				Op:   convertOp(event.Op),
				Time: time.Now(),
			}
			select {
			case w.changes <- change:
			default:
				w.logger.Warn("Change buffer full, event dropped", slog.String("path", change.Path))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", slog.String("error", err.Error()))
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

// debounceLoop batches changes and flushes them when the window passes
// without new events.
func (w *FileWatcher) debounceLoop(ctx context.Context) {
	var batch []Change
	// Stop and Reset need no draining on go1.23+ timers.
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	flush := func() {
		if len(batch) > 0 && w.handler != nil {
			w.handler(dedupe(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.done:
			timer.Stop()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			timer.Reset(w.debounce)
		case <-timer.C:
			flush()
		}
	}
}

// dedupe keeps the latest change per path, in first-seen order.
func dedupe(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := seen[c.Path]; ok {
			out[i] = c
			continue
		}
		seen[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blame

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// HeadWatcher invalidates cached blame when repository history moves.
//
// # Description
//
// Watches HEAD, refs/heads and packed-refs inside a git directory. Any
// write to them (commit, checkout, rebase, gc) means the blame of an
// unchanged file may now differ, so every cached map is dropped.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type HeadWatcher struct {
	gitDir   string
	cache    Invalidator
	watcher  *fsnotify.Watcher
	onChange func()
	logger   *slog.Logger
}

// NewHeadWatcher creates a watcher over gitDir.
//
// # Inputs
//
//   - gitDir: Path to the git directory (not the work tree).
//   - cache: Invalidated on every change. May be nil.
//   - onChange: Called after invalidation. May be nil.
//   - logger: May be nil.
//
// # Outputs
//
//   - *HeadWatcher: Ready-to-start watcher.
//   - error: Non-nil if the fsnotify watcher cannot be created.
func NewHeadWatcher(gitDir string, cache Invalidator, onChange func(), logger *slog.Logger) (*HeadWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create head watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadWatcher{
		gitDir:   gitDir,
		cache:    cache,
		watcher:  watcher,
		onChange: onChange,
		logger:   logger.With(slog.String("component", "head_watcher")),
	}, nil
}

// Start watches until ctx is cancelled or Stop is called. Run it in a
// goroutine.
func (w *HeadWatcher) Start(ctx context.Context) {
	for _, p := range []string{
		filepath.Join(w.gitDir, "HEAD"),
		filepath.Join(w.gitDir, "refs", "heads"),
		filepath.Join(w.gitDir, "packed-refs"),
	} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := w.watcher.Add(p); err != nil {
			w.logger.Debug("Failed to watch git path",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}

	w.logger.Debug("Started watching git HEAD", slog.String("git_dir", w.gitDir))

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Git HEAD watcher error", slog.String("error", err.Error()))

		case <-ctx.Done():
			return
		}
	}
}

func (w *HeadWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	// Lock files come and go on every ref update; the final rename is enough.
	if strings.HasSuffix(event.Name, ".lock") {
		return
	}

	w.logger.Debug("Git history moved, invalidating blame cache",
		slog.String("path", event.Name))

	if w.cache != nil {
		if err := w.cache.InvalidateAll(); err != nil {
			w.logger.Warn("Failed to invalidate blame cache",
				slog.String("error", err.Error()))
		}
	}
	if w.onChange != nil {
		w.onChange()
	}
}

// Stop releases the watcher. Start returns once it is closed.
func (w *HeadWatcher) Stop() error {
	return w.watcher.Close()
}

// FindGitDir walks up from start looking for a .git entry.
//
// # Description
//
// Returns the git directory for the repository containing start. For
// worktrees and submodules .git is a file of the form "gitdir: <path>"
// and the referenced directory is returned instead.
//
// # Outputs
//
//   - string: Absolute path to the git directory.
//   - error: ErrNotRepository if no .git is found up to the filesystem root.
func FindGitDir(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for {
		candidate := filepath.Join(dir, ".git")
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return candidate, nil
			}
			return resolveGitFile(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: %s", ErrNotRepository, start)
		}
		dir = parent
	}
}

// resolveGitFile reads a "gitdir: <path>" reference file.
func resolveGitFile(gitFile string) (string, error) {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(content))
	target, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return "", fmt.Errorf("%w: malformed %s", ErrNotRepository, gitFile)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(gitFile), target)
	}
	return filepath.Clean(target), nil
}

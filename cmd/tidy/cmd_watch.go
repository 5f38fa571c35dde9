// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidy/services/tidy/blame"
	"github.com/AleutianAI/tidy/services/tidy/issues"
	"github.com/AleutianAI/tidy/services/tidy/scheduler"
	"github.com/AleutianAI/tidy/services/tidy/watch"
)

func runWatchCommand(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	me, err := cfg.MyName()
	if err != nil {
		return err
	}

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("Closing blame cache failed", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	store := issues.NewStore()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", path)

	return watchFile(ctx, watchOptions{
		Path:   path,
		Delay:  cfg.Delay,
		Me:     me,
		Runner: st.runner,
		Cache:  st.cache,
		Store:  store,
		Sink:   newTerminalSink(out, newPalette(colorEnabled(out)), store, me),
		Logger: logger,
	})
}

// watchOptions wires one watched file.
type watchOptions struct {
	Path   string
	Delay  time.Duration
	Me     *regexp.Regexp
	Runner scheduler.Runner

	// Cache is invalidated on commits and checkouts. Nil disables HEAD
	// watching.
	Cache blame.Invalidator

	Store  *issues.Store
	Sink   scheduler.Sink
	Logger *slog.Logger
}

// watchFile checks the file once, then again after every save and every
// HEAD move, until ctx is cancelled.
func watchFile(ctx context.Context, o watchOptions) error {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	buf := scheduler.NewFileBuffer(o.Path)
	sched := scheduler.New(buf, o.Store, o.Runner,
		scheduler.WithDelay(o.Delay),
		scheduler.WithMyName(o.Me),
		scheduler.WithSink(o.Sink),
		scheduler.WithLogger(o.Logger),
	)
	defer sched.Close()

	wopts := watch.DefaultOptions()
	wopts.Logger = o.Logger
	fw, err := watch.New(func(changes []watch.Change) {
		for _, c := range changes {
			if c.Op.Saved() {
				sched.OnSave()
				return
			}
			o.Logger.Warn("Watched file went away", slog.String("path", c.Path), slog.String("op", c.Op.String()))
		}
	}, &wopts)
	if err != nil {
		return err
	}
	if err := fw.Add(o.Path); err != nil {
		fw.Stop()
		return err
	}
	fw.Start(ctx)
	defer fw.Stop()

	if o.Cache != nil {
		if stopHead := watchHead(ctx, o, sched); stopHead != nil {
			defer stopHead()
		}
	}

	sched.OnLoad()
	<-ctx.Done()
	return nil
}

// watchHead re-checks the file whenever the enclosing repository's HEAD
// moves. Returns nil when the file is not in a repository.
func watchHead(ctx context.Context, o watchOptions, sched *scheduler.Scheduler) (stop func()) {
	gitDir, err := blame.FindGitDir(filepath.Dir(o.Path))
	if err != nil {
		o.Logger.Debug("Not watching git HEAD", slog.String("reason", err.Error()))
		return nil
	}
	hw, err := blame.NewHeadWatcher(gitDir, o.Cache, func() { sched.OnLoad() }, o.Logger)
	if err != nil {
		o.Logger.Warn("Git HEAD watcher unavailable", slog.String("error", err.Error()))
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		hw.Start(ctx)
	}()
	return func() {
		if err := hw.Stop(); err != nil {
			o.Logger.Debug("Stopping git HEAD watcher", slog.String("error", err.Error()))
		}
		<-done
	}
}

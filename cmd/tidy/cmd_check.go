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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidy/services/tidy/aggregate"
	"github.com/AleutianAI/tidy/services/tidy/issues"
	"github.com/AleutianAI/tidy/services/tidy/server"
)

// checkResult is one file in check --json output.
type checkResult struct {
	Path     string             `json:"path"`
	Issues   []server.IssueView `json:"issues"`
	Failures []string           `json:"failures,omitempty"`
	Error    string             `json:"error,omitempty"`

	snap     issues.Snapshot
	failures []aggregate.Failure
}

func runCheckCommand(cmd *cobra.Command, args []string) error {
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

	results := checkFiles(cmd.Context(), st.runner, args, me)

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printCheckResults(out, newPalette(colorEnabled(out)), results, me)
	}

	if failOnIssues {
		for _, r := range results {
			if len(r.Issues) > 0 {
				return errIssuesFound
			}
		}
	}
	return nil
}

// checkFiles runs every path once, in order. A file that cannot be read is
// reported in its result rather than aborting the others.
func checkFiles(ctx context.Context, runner *aggregate.Runner, paths []string, me *regexp.Regexp) []checkResult {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]checkResult, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		res := checkResult{Path: abs, Issues: []server.IssueView{}}
		if _, err := os.Stat(abs); err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}

		store := issues.NewStore()
		run := runner.RunInto(ctx, aggregate.DiskTarget(abs), store)
		snap := store.Snapshot()
		for _, is := range snap.Issues {
			author, _ := snap.Blame.Author(is.Line)
			res.Issues = append(res.Issues, server.IssueView{
				Issue:  is,
				Author: author,
				Mine:   snap.IsMine(is, me),
			})
		}
		for _, f := range run.Failures {
			res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", f.Analyzer, f.Err))
		}
		res.snap = snap
		res.failures = run.Failures
		results = append(results, res)
	}
	return results
}

func printCheckResults(w io.Writer, p palette, results []checkResult, me *regexp.Regexp) {
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if r.Error != "" {
			fmt.Fprintln(w, p.Title.Render(r.Path))
			fmt.Fprintln(w, "  "+p.Error.Render(r.Error))
			continue
		}

		writeReport(w, p, r.snap, me)
		writeFailures(w, p, r.failures)
	}
}

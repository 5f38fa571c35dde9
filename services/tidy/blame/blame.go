// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package blame resolves per-line authorship for a file from source control.
//
// # Description
//
// A Resolver runs a blame command (git blame by default) against a file and
// extracts one author per output line using a configurable pattern. The
// result is a Map with exactly one entry per blamed line. Any failure of the
// underlying command yields an empty Map: blame is decoration, never a
// reason to fail a check.
//
// # Thread Safety
//
// Resolver, Cache and CachingResolver are safe for concurrent use.
package blame

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NotCommitted is the author git reports for lines that only exist in the
// working tree.
const NotCommitted = "Not Committed Yet"

// DefaultAuthorPattern extracts the author from `git blame --date=short`
// output lines such as:
//
//	3f2a9c1e (Jane Doe 2024-03-01  12) def main():
//	3f2a9c1e old/name.py (Jane Doe 2024-03-01  12) def main():
const DefaultAuthorPattern = `^\^?[0-9a-fA-F]+\s+(?:\S+\s+)?\((?P<author>.+?)\s+\d{4}-\d{2}-\d{2}`

// DefaultTimeout bounds a single blame invocation.
const DefaultTimeout = 10 * time.Second

var tracer = otel.Tracer("tidy.blame")

// Map maps 1-based line numbers to blamed authors.
//
// Index i holds the author of line i+1. An empty string marks a line whose
// blame entry could not be attributed.
type Map []string

// Author returns the author of a 1-based line and whether one is known.
func (m Map) Author(line int) (string, bool) {
	if line < 1 || line > len(m) {
		return "", false
	}
	author := m[line-1]
	return author, author != ""
}

// Lines returns the number of lines covered by the map.
func (m Map) Lines() int {
	return len(m)
}

// Source produces blame maps. Implemented by Resolver and CachingResolver.
type Source interface {
	Resolve(ctx context.Context, path string) (Map, error)
}

// Resolver runs a blame command and parses authors out of its output.
//
// Thread Safety: Safe for concurrent use.
type Resolver struct {
	command string
	args    []string
	pattern *regexp.Regexp
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCommand sets the blame command and its argument template. An argument
// equal to "{path}" is replaced by the file path; when no argument contains
// the placeholder the path is appended.
func WithCommand(command string, args ...string) Option {
	return func(r *Resolver) {
		r.command = command
		r.args = append([]string(nil), args...)
	}
}

// WithPattern sets the author extraction pattern.
func WithPattern(pattern *regexp.Regexp) Option {
	return func(r *Resolver) {
		r.pattern = pattern
	}
}

// WithTimeout bounds each blame invocation.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a git blame resolver.
//
// Description:
//
//	Defaults to `git blame --date=short <path>` run in the file's
//	directory with DefaultAuthorPattern.
//
// Inputs:
//
//	opts - Optional configuration
//
// Outputs:
//
//	*Resolver - The configured resolver
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		command: "git",
		args:    []string{"blame", "--date=short", "{path}"},
		pattern: regexp.MustCompile(DefaultAuthorPattern),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "blame_resolver"))
	return r
}

// Resolve blames path and returns its per-line author map.
//
// Description:
//
//	Runs the blame command with the file's directory as working
//	directory. Unparseable lines map to the absent marker. When the command
//	fails (untracked file, not a repository, missing binary, timeout) an
//	empty Map is returned together with an error wrapping
//	ErrBlameUnavailable, which callers log and otherwise ignore.
//
// Inputs:
//
//	ctx - Context for cancellation
//	path - File to blame
//
// Outputs:
//
//	Map - One entry per blamed line, or empty
//	error - Non-nil only to explain an empty Map
//
// Thread Safety: Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, path string) (Map, error) {
	ctx, span := tracer.Start(ctx, "blame.Resolve",
		trace.WithAttributes(attribute.String("blame.path", path)),
	)
	defer span.End()

	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, r.command, expandArgs(r.args, path)...)
	cmd.Dir = filepath.Dir(path)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		reason := strings.TrimSpace(stderr.String())
		if cmdCtx.Err() == context.DeadlineExceeded {
			reason = "timed out after " + r.timeout.String()
		}
		span.SetStatus(codes.Error, "blame unavailable")
		r.logger.Debug("Blame unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()),
			slog.String("reason", reason),
		)
		return Map{}, fmt.Errorf("%w: %s: %v: %s", ErrBlameUnavailable, path, err, reason)
	}

	m := ParseOutput(stdout.Bytes(), r.pattern)
	span.SetAttributes(attribute.Int("blame.lines", len(m)))
	return m, nil
}

// ParseOutput turns blame output into a Map, one entry per output line.
//
// Description:
//
//	The author is taken from the pattern's "author" group when it has one,
//	otherwise from its first capture group. Lines that do not match become
//	the absent marker.
//
// Inputs:
//
//	output - Raw blame command output
//	pattern - Author extraction pattern
//
// Outputs:
//
//	Map - Parsed map; len equals the number of output lines
func ParseOutput(output []byte, pattern *regexp.Regexp) Map {
	group := pattern.SubexpIndex("author")
	if group < 0 {
		group = 1
	}

	m := make(Map, 0, bytes.Count(output, []byte{'\n'})+1)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		match := pattern.FindStringSubmatch(line)
		if match == nil || group >= len(match) {
			m = append(m, "")
			continue
		}
		m = append(m, strings.TrimSpace(match[group]))
	}
	return m
}

// expandArgs substitutes the path into an argument template.
func expandArgs(template []string, path string) []string {
	args := make([]string, 0, len(template)+1)
	substituted := false
	for _, arg := range template {
		if strings.Contains(arg, "{path}") {
			arg = strings.ReplaceAll(arg, "{path}", path)
			substituted = true
		}
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, path)
	}
	return args
}

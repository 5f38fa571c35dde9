// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate performs one full check of a file: every matching
// analyzer runs concurrently, their issues are merged in registration
// order, and the file's blame map is resolved alongside.
//
// A run never fails. Analyzers that crash, hang or are missing contribute
// nothing and are listed in Result.Failures; blame problems degrade to an
// empty map.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/tidy/services/tidy/blame"
	"github.com/AleutianAI/tidy/services/tidy/issues"
	"github.com/AleutianAI/tidy/services/tidy/lint"
)

// DefaultAdapterTimeout bounds each analyzer invocation.
const DefaultAdapterTimeout = 10 * time.Second

// StatusCompleted is the status of every finished run.
const StatusCompleted = "completed"

var tracer = otel.Tracer("tidy.aggregate")

// =============================================================================
// TYPES
// =============================================================================

// Target names the file to check and where its content comes from.
type Target struct {
	// Path is the file identity. Blame and analyzer selection use it.
	Path string

	// Content is the unsaved buffer text, used when Live is true.
	Content []byte

	// Live selects Content over the file on disk.
	Live bool
}

// DiskTarget returns a target that checks the saved file.
func DiskTarget(path string) Target {
	return Target{Path: path}
}

// LiveTarget returns a target that checks unsaved buffer content.
func LiveTarget(path string, content []byte) Target {
	return Target{Path: path, Content: content, Live: true}
}

// Failure records one analyzer that contributed no issues.
type Failure struct {
	Analyzer string
	Err      error
}

// Result is the outcome of one run.
type Result struct {
	Generation uint64
	Target     Target
	Issues     []issues.Issue
	Blame      blame.Map
	Failures   []Failure
	Duration   time.Duration
	Status     string
}

// Selector picks analyzers for a path. Implemented by *lint.Registry.
type Selector interface {
	Select(path string) []string
}

// Invoker runs one analyzer. Implemented by *lint.Invoker.
//
// Invoke should return promptly once ctx is done. A call that outlives the
// per-analyzer timeout is reported as ErrAnalyzerTimeout and its result is
// dropped.
type Invoker interface {
	Invoke(ctx context.Context, name, path string) ([]issues.Issue, error)
}

var (
	_ Selector = (*lint.Registry)(nil)
	_ Invoker  = (*lint.Invoker)(nil)
)

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes aggregation runs.
//
// Thread Safety: Safe for concurrent use. Each Run is independent.
type Runner struct {
	selector Selector
	invoker  Invoker
	blame    blame.Source
	timeout  time.Duration
	remap    bool
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithAdapterTimeout sets the per-analyzer time budget.
func WithAdapterTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBlameRemap projects disk blame onto live buffer lines for live
// targets. Off by default: live checks are blamed against the saved file.
func WithBlameRemap(enabled bool) Option {
	return func(r *Runner) {
		r.remap = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner. source may be nil, in which case every run
// carries an empty blame map.
func NewRunner(selector Selector, invoker Invoker, source blame.Source, opts ...Option) *Runner {
	r := &Runner{
		selector: selector,
		invoker:  invoker,
		blame:    source,
		timeout:  DefaultAdapterTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "aggregate"))
	return r
}

// Run performs one check of target.
//
// Description:
//
//	Live targets are written to a temporary file with the same extension
//	so analyzers that key off the extension still work; the file is
//	removed once every analyzer has returned. Each analyzer gets its own
//	timeout. Issues are concatenated in the order Select returned the
//	analyzers, whatever order they finish in. Blame is resolved for
//	target.Path, never the temporary file, concurrently with the
//	analyzers.
//
// Inputs:
//
//	ctx - Parent context; cancelling it ends every analyzer early
//	target - What to check
//	gen - Generation token carried back in the result
//
// Outputs:
//
//	*Result - Always non-nil with Status StatusCompleted
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) Run(ctx context.Context, target Target, gen uint64) *Result {
	ctx, span := tracer.Start(ctx, "aggregate.Run",
		trace.WithAttributes(
			attribute.String("aggregate.path", target.Path),
			attribute.Bool("aggregate.live", target.Live),
			attribute.Int64("aggregate.generation", int64(gen)),
		),
	)
	defer span.End()
	start := time.Now()

	result := &Result{
		Generation: gen,
		Target:     target,
		Issues:     []issues.Issue{},
		Blame:      blame.Map{},
		Status:     StatusCompleted,
	}

	names := r.selector.Select(target.Path)

	analyzePath := target.Path
	if target.Live && len(names) > 0 {
		tmp, err := writeSnapshot(target)
		if err != nil {
			r.logger.Warn("Could not snapshot buffer",
				slog.String("path", target.Path),
				slog.String("error", err.Error()),
			)
			result.Failures = append(result.Failures, Failure{Analyzer: "snapshot", Err: err})
			names = nil
		} else {
			analyzePath = tmp
			defer os.Remove(tmp)
		}
	}

	found := make([][]issues.Issue, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			found[i], errs[i] = r.invoke(ctx, name, analyzePath)
			return nil
		})
	}
	g.Go(func() error {
		result.Blame = r.resolveBlame(ctx, target)
		return nil
	})
	_ = g.Wait()

	for i, name := range names {
		if errs[i] != nil {
			r.logger.Info("Analyzer contributed no issues",
				slog.String("analyzer", name),
				slog.String("path", target.Path),
				slog.String("error", errs[i].Error()),
			)
			result.Failures = append(result.Failures, Failure{Analyzer: name, Err: errs[i]})
			continue
		}
		result.Issues = append(result.Issues, found[i]...)
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("aggregate.issue_count", len(result.Issues)),
		attribute.Int("aggregate.failure_count", len(result.Failures)),
		attribute.Int("aggregate.blame_lines", len(result.Blame)),
	)
	r.logger.Debug("Run completed",
		slog.String("path", target.Path),
		slog.Uint64("generation", gen),
		slog.Int("analyzers", len(names)),
		slog.Int("issues", len(result.Issues)),
		slog.Int("failures", len(result.Failures)),
		slog.Duration("duration", result.Duration),
	)
	return result
}

// RunInto runs target and installs the result into store.
//
// Description:
//
//	For callers without a scheduler (one-shot checks). The generation is
//	one past the store's current one, so it always wins.
func (r *Runner) RunInto(ctx context.Context, target Target, store *issues.Store) *Result {
	gen := store.Snapshot().Generation + 1
	result := r.Run(ctx, target, gen)
	store.Replace(gen, target.Path, result.Issues, result.Blame)
	return result
}

// invoke runs one analyzer under its own timeout, converting panics into
// failures. The timeout holds even when the Invoker ignores ctx: the call
// is abandoned and its late result discarded.
func (r *Runner) invoke(ctx context.Context, name, path string) ([]issues.Issue, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		found []issues.Issue
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		found, err := r.call(ctx, name, path)
		done <- outcome{found, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		return out.found, nil
	case <-ctx.Done():
		sentinel := lint.ErrAnalyzerFailed
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			sentinel = lint.ErrAnalyzerTimeout
		}
		r.logger.Warn("Analyzer did not return after its deadline",
			slog.String("analyzer", name),
			slog.Duration("timeout", r.timeout),
		)
		return nil, &lint.AdapterError{Analyzer: name, Path: path, Err: sentinel, Cause: ctx.Err()}
	}
}

// call invokes the analyzer and recovers a panic into ErrAnalyzerFailed.
func (r *Runner) call(ctx context.Context, name, path string) (found []issues.Issue, err error) {
	defer func() {
		if p := recover(); p != nil {
			found = nil
			err = &lint.AdapterError{
				Analyzer: name,
				Path:     path,
				Err:      lint.ErrAnalyzerFailed,
				Cause:    fmt.Errorf("panic: %v", p),
			}
		}
	}()
	return r.invoker.Invoke(ctx, name, path)
}

// resolveBlame returns the blame map for target.Path, empty on any error.
func (r *Runner) resolveBlame(ctx context.Context, target Target) (m blame.Map) {
	if r.blame == nil {
		return blame.Map{}
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("Blame resolution panicked",
				slog.String("path", target.Path),
				slog.String("panic", fmt.Sprint(p)),
			)
			m = blame.Map{}
		}
	}()

	m, err := r.blame.Resolve(ctx, target.Path)
	if err != nil {
		r.logger.Debug("Blame unavailable",
			slog.String("path", target.Path),
			slog.String("error", err.Error()),
		)
		return blame.Map{}
	}
	if m == nil {
		m = blame.Map{}
	}

	if r.remap && target.Live && len(m) > 0 {
		disk, err := os.ReadFile(target.Path)
		if err == nil {
			m = blame.Remap(m, string(disk), string(target.Content))
		}
	}
	return m
}

// writeSnapshot materializes live content to a temporary file sharing the
// target's extension.
func writeSnapshot(target Target) (string, error) {
	tmp, err := os.CreateTemp("", "tidy-*"+filepath.Ext(target.Path))
	if err != nil {
		return "", fmt.Errorf("creating snapshot file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(target.Content); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", fmt.Errorf("writing snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("closing snapshot file: %w", err)
	}
	return name, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/tidy/services/tidy/issues"
)

// waitDelay bounds how long Invoke waits for output pipes after the
// process is killed; children that inherit the pipes would block it.
const waitDelay = 500 * time.Millisecond

// =============================================================================
// INVOKER
// =============================================================================

// Invoker runs registered analyzers.
//
// Description:
//
//	Executes an analyzer's command against one file, collects stdout
//	followed by stderr, and parses the result with the analyzer's
//	pattern. Availability is probed with Detect, which is optional:
//	Invoke reports a missing binary on its own.
//
// Thread Safety: Safe for concurrent use.
type Invoker struct {
	registry  *Registry
	available map[string]bool
	availMu   sync.RWMutex
	logger    *slog.Logger
}

// InvokerOption configures the Invoker.
type InvokerOption func(*Invoker)

// WithInvokerLogger sets the logger.
func WithInvokerLogger(logger *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInvoker creates an invoker over registry.
func NewInvoker(registry *Registry, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		registry:  registry,
		available: make(map[string]bool),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(slog.String("component", "lint_invoker"))
	return i
}

// Registry returns the registry the invoker reads analyzers from.
func (i *Invoker) Registry() *Registry {
	return i.registry
}

// Detect checks which analyzers are installed.
//
// Description:
//
//	Looks up every registered command in PATH and logs the outcome.
//
// Outputs:
//
//	map[string]bool - Analyzer name to availability
//
// Thread Safety: Safe for concurrent use.
func (i *Invoker) Detect() map[string]bool {
	i.availMu.Lock()
	defer i.availMu.Unlock()

	result := make(map[string]bool)
	for _, a := range i.registry.Analyzers() {
		_, err := exec.LookPath(a.Command)
		available := err == nil
		i.available[a.Name] = available
		result[a.Name] = available

		if available {
			i.logger.Info("Analyzer available",
				slog.String("analyzer", a.Name),
				slog.String("command", a.Command),
			)
		} else {
			i.logger.Warn("Analyzer not installed",
				slog.String("analyzer", a.Name),
				slog.String("command", a.Command),
			)
		}
	}
	return result
}

// IsAvailable reports the last Detect result for name.
func (i *Invoker) IsAvailable(name string) bool {
	i.availMu.RLock()
	defer i.availMu.RUnlock()
	return i.available[name]
}

// Invoke runs one analyzer against path.
//
// Description:
//
//	The command runs in the file's directory. A non-zero exit status is
//	accepted whenever the process printed something, since most tools
//	exit non-zero when they report findings. Output that does not match
//	the analyzer's pattern is ignored.
//
// Inputs:
//
//	ctx - Bounds the invocation; its deadline is the analyzer's timeout
//	name - Registered analyzer name
//	path - File to analyze
//
// Outputs:
//
//	[]issues.Issue - Parsed issues; empty for a clean file
//	error - *AdapterError wrapping ErrUnknownAnalyzer, ErrAnalyzerUnavailable,
//	  ErrAnalyzerTimeout or ErrAnalyzerFailed. Issues are empty whenever
//	  error is non-nil.
//
// Thread Safety: Safe for concurrent use.
func (i *Invoker) Invoke(ctx context.Context, name, path string) ([]issues.Issue, error) {
	ctx, span := startInvokeSpan(ctx, name, path)
	defer span.End()
	start := time.Now()

	e, ok := i.registry.lookup(name)
	if !ok {
		err := newAdapterError(name, path, ErrUnknownAnalyzer, nil)
		setInvokeSpanError(span, err)
		return nil, err
	}
	a := e.analyzer

	output, err := i.execute(ctx, a, path)
	if err != nil {
		setInvokeSpanError(span, err)
		recordInvokeMetrics(ctx, name, time.Since(start), 0, outcomeOf(err))
		i.logger.Debug("Analyzer failed",
			slog.String("analyzer", name),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	found := e.parser.Parse(output, a.Name)
	setInvokeSpanResult(span, len(found))
	recordInvokeMetrics(ctx, name, time.Since(start), len(found), "ok")

	i.logger.Debug("Analyzer completed",
		slog.String("analyzer", name),
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)),
		slog.Int("issues", len(found)),
	)
	return found, nil
}

// execute runs the analyzer subprocess and returns stdout then stderr.
func (i *Invoker) execute(ctx context.Context, a Analyzer, path string) ([]byte, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.Command, expandArgs(a.Args, path)...)
	cmd.Dir = filepath.Dir(path)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, newAdapterError(a.Name, path, ErrAnalyzerTimeout, ctx.Err()).
			withOutput(strings.TrimSpace(stderr.String()))
	}
	if ctx.Err() != nil {
		return nil, newAdapterError(a.Name, path, ErrAnalyzerFailed, ctx.Err())
	}

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, newAdapterError(a.Name, path, ErrAnalyzerUnavailable, err)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, newAdapterError(a.Name, path, ErrAnalyzerFailed, err)
		}
	}

	output := make([]byte, 0, stdout.Len()+stderr.Len())
	output = append(output, stdout.Bytes()...)
	output = append(output, stderr.Bytes()...)

	// Findings come with non-zero exits; only a silent crash is a failure.
	if err != nil && len(bytes.TrimSpace(output)) == 0 {
		return nil, newAdapterError(a.Name, path, ErrAnalyzerFailed, err)
	}
	return output, nil
}

// outcomeOf maps an invocation error to a metric label.
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrAnalyzerTimeout):
		return "timeout"
	case errors.Is(err, ErrAnalyzerUnavailable):
		return "unavailable"
	default:
		return "failed"
	}
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

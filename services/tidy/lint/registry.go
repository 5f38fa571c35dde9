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
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// ANALYZER DEFINITION
// =============================================================================

// Analyzer describes one external analysis tool.
type Analyzer struct {
	// Name identifies the analyzer and is stored as each issue's reporter.
	Name string

	// Command is the executable, looked up in PATH.
	Command string

	// Args is the argument template. "{path}" is replaced by the file path;
	// when no argument contains it the path is appended.
	Args []string

	// Extensions lists the file extensions (with dot) the analyzer handles.
	Extensions []string

	// Pattern is the output pattern; see NewPatternParser.
	Pattern string

	// Timeout bounds one invocation. Zero leaves it to the caller's context.
	Timeout time.Duration
}

// =============================================================================
// DEFAULT ANALYZERS
// =============================================================================

// DefaultStyleChecker runs pep8.
var DefaultStyleChecker = Analyzer{
	Name:       "style-checker",
	Command:    "pep8",
	Extensions: []string{".py"},
	Pattern:    StyleCheckerPattern,
}

// DefaultDeepLinter runs pylint with its plain text report.
var DefaultDeepLinter = Analyzer{
	Name:       "deep-linter",
	Command:    "pylint",
	Args:       []string{"--output-format=text", "{path}"},
	Extensions: []string{".py"},
	Pattern:    DeepLinterPattern,
}

// DefaultUnusedSymbolChecker runs pyflakes.
var DefaultUnusedSymbolChecker = Analyzer{
	Name:       "unused-symbol-checker",
	Command:    "pyflakes",
	Extensions: []string{".py"},
	Pattern:    UnusedSymbolCheckerPattern,
}

// DefaultScriptLinter runs jshint.
var DefaultScriptLinter = Analyzer{
	Name:       "script-linter",
	Command:    "jshint",
	Extensions: []string{".js"},
	Pattern:    ScriptLinterPattern,
}

// DefaultAnalyzers returns the built-in analyzers in registration order.
func DefaultAnalyzers() []Analyzer {
	return []Analyzer{
		DefaultStyleChecker,
		DefaultDeepLinter,
		DefaultUnusedSymbolChecker,
		DefaultScriptLinter,
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

type entry struct {
	analyzer Analyzer
	parser   *PatternParser
}

// Registry maps file extensions to analyzers, keeping registration order.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry
	byExt   map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*entry),
		byExt:  make(map[string][]string),
	}
}

// DefaultRegistry creates a registry holding the built-in analyzers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range DefaultAnalyzers() {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds an analyzer after all previously registered ones.
//
// Description:
//
//	Registering a name that already exists replaces that analyzer's
//	definition in place, keeping its original position.
//
// Inputs:
//
//	a - Analyzer definition
//
// Outputs:
//
//	error - ErrInvalidAnalyzer if a field is missing or the pattern is bad
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(a Analyzer) error {
	if a.Name == "" || a.Command == "" || len(a.Extensions) == 0 {
		return fmt.Errorf("%w: name, command and extensions are required (%q)", ErrInvalidAnalyzer, a.Name)
	}
	parser, err := NewPatternParser(a.Pattern)
	if err != nil {
		return fmt.Errorf("analyzer %q: %w", a.Name, err)
	}

	a.Args = append([]string(nil), a.Args...)
	exts := make([]string, 0, len(a.Extensions))
	for _, ext := range a.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	a.Extensions = exts

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{analyzer: a, parser: parser}
	if old, ok := r.byName[a.Name]; ok {
		*old = *e
	} else {
		r.entries = append(r.entries, e)
		r.byName[a.Name] = e
	}
	r.reindex()
	return nil
}

// Remove drops an analyzer. Unknown names are ignored.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.analyzer.Name != name {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	r.reindex()
}

// reindex rebuilds the extension index. Caller holds the write lock.
func (r *Registry) reindex() {
	r.byExt = make(map[string][]string)
	for _, e := range r.entries {
		for _, ext := range e.analyzer.Extensions {
			r.byExt[ext] = append(r.byExt[ext], e.analyzer.Name)
		}
	}
}

// Select returns the analyzers for path's extension in registration order.
// The match is case-insensitive and unknown extensions yield nil.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Select(path string) []string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byExt[ext]
	if len(names) == 0 {
		return nil
	}
	return append([]string(nil), names...)
}

// Get returns the analyzer registered under name.
func (r *Registry) Get(name string) (Analyzer, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Analyzer{}, false
	}
	return e.analyzer, true
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return entry{}, false
	}
	return *e, true
}

// Analyzers returns every registered analyzer in registration order.
func (r *Registry) Analyzers() []Analyzer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Analyzer, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.analyzer)
	}
	return out
}

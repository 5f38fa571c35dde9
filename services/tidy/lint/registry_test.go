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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Select(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		path string
		want []string
	}{
		{"/src/a.py", []string{"style-checker", "deep-linter", "unused-symbol-checker"}},
		{"/src/A.PY", []string{"style-checker", "deep-linter", "unused-symbol-checker"}},
		{"/src/app.js", []string{"script-linter"}},
		{"/src/main.go", nil},
		{"/src/Makefile", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Select(tt.path))
		})
	}
}

func TestRegistry_SelectReturnsCopy(t *testing.T) {
	reg := DefaultRegistry()
	got := reg.Select("a.py")
	got[0] = "mutated"

	assert.Equal(t, "style-checker", reg.Select("a.py")[0])
}

func TestRegistry_RegisterCustom(t *testing.T) {
	reg := DefaultRegistry()
	err := reg.Register(Analyzer{
		Name:       "type-checker",
		Command:    "mypy",
		Extensions: []string{"py", ".PYI"},
		Pattern:    `(?m)^\S+:(?P<line>\d+): \w+: (?P<message>.+)$`,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"style-checker", "deep-linter", "unused-symbol-checker", "type-checker"}, reg.Select("a.py"))
	assert.Equal(t, []string{"type-checker"}, reg.Select("a.pyi"))

	a, ok := reg.Get("type-checker")
	require.True(t, ok)
	assert.Equal(t, []string{".py", ".pyi"}, a.Extensions)
}

func TestRegistry_ReplaceKeepsPosition(t *testing.T) {
	reg := DefaultRegistry()
	replacement := DefaultStyleChecker
	replacement.Command = "pycodestyle"
	require.NoError(t, reg.Register(replacement))

	assert.Equal(t, "style-checker", reg.Select("a.py")[0])
	a, _ := reg.Get("style-checker")
	assert.Equal(t, "pycodestyle", a.Command)
	assert.Len(t, reg.Analyzers(), 4)
}

func TestRegistry_Remove(t *testing.T) {
	reg := DefaultRegistry()
	reg.Remove("deep-linter")
	reg.Remove("never-registered")

	assert.Equal(t, []string{"style-checker", "unused-symbol-checker"}, reg.Select("a.py"))
	_, ok := reg.Get("deep-linter")
	assert.False(t, ok)
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	reg := NewRegistry()

	assert.ErrorIs(t, reg.Register(Analyzer{Name: "x", Extensions: []string{".py"}, Pattern: DeepLinterPattern}), ErrInvalidAnalyzer)
	assert.ErrorIs(t, reg.Register(Analyzer{Name: "x", Command: "x", Pattern: DeepLinterPattern}), ErrInvalidAnalyzer)
	assert.ErrorIs(t, reg.Register(Analyzer{Name: "x", Command: "x", Extensions: []string{".py"}, Pattern: "("}), ErrInvalidAnalyzer)
	assert.Empty(t, reg.Analyzers())
}

func TestExpandArgs(t *testing.T) {
	assert.Equal(t, []string{"/a.py"}, expandArgs(nil, "/a.py"))
	assert.Equal(t, []string{"--output-format=text", "/a.py"},
		expandArgs([]string{"--output-format=text", "{path}"}, "/a.py"))
	assert.Equal(t, []string{"--reporter=unix", "/a.js"},
		expandArgs([]string{"--reporter=unix"}, "/a.js"))
}

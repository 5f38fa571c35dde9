// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidy/services/tidy/issues"
)

func TestLineRegions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []issues.Region
	}{
		{"empty", "", []issues.Region{}},
		{"single without newline", "abc", []issues.Region{{Begin: 0, End: 3}}},
		{"single with newline", "abc\n", []issues.Region{{Begin: 0, End: 3}}},
		{"blank lines", "\n\n", []issues.Region{{Begin: 0, End: 0}, {Begin: 1, End: 1}}},
		{"trailing fragment", "ab\ncd", []issues.Region{{Begin: 0, End: 2}, {Begin: 3, End: 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LineRegions([]byte(tt.text)))
		})
	}
}

func TestFileBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mod.py")
	require.NoError(t, os.WriteFile(path, []byte("import os\nx = 1\n"), 0o644))

	b := NewFileBuffer(path)
	assert.Equal(t, path, b.FileName())
	assert.False(t, b.IsModified())
	assert.Equal(t, "import os\nx = 1\n", string(b.Text()))

	r, ok := b.LineRegion(2)
	require.True(t, ok)
	assert.Equal(t, issues.Region{Begin: 10, End: 15}, r)
	_, ok = b.LineRegion(3)
	assert.False(t, ok)
	_, ok = b.LineRegion(0)
	assert.False(t, ok)

	t.Run("rereads after the file changes", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))
		future := time.Now().Add(time.Minute)
		require.NoError(t, os.Chtimes(path, future, future))

		_, ok := b.LineRegion(3)
		assert.True(t, ok)
		assert.Equal(t, "a\nb\nc\n", string(b.Text()))
	})

	t.Run("missing file has no lines", func(t *testing.T) {
		require.NoError(t, os.Remove(path))
		assert.Empty(t, b.Text())
		_, ok := b.LineRegion(1)
		assert.False(t, ok)
	})
}

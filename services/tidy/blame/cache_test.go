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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidy/services/tidy/storage/badger"
)

type countingSource struct {
	calls atomic.Int32
	m     Map
	err   error
}

func (s *countingSource) Resolve(ctx context.Context, path string) (Map, error) {
	s.calls.Add(1)
	return s.m, s.err
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCache(db, time.Hour)
}

func TestCache_PutGet(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "/a.py", "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "/a.py", "d1", Map{"Ann", ""}))

	m, ok, err := cache.Get(ctx, "/a.py", "d1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Map{"Ann", ""}, m)

	_, ok, _ = cache.Get(ctx, "/a.py", "d2")
	assert.False(t, ok, "different digest misses")
}

func TestCache_Invalidate(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, "/a.py", "d", Map{"Ann"}))
	require.NoError(t, cache.Put(ctx, "/a.pyx", "d", Map{"Bob"}))
	require.NoError(t, cache.Put(ctx, "/b.py", "d", Map{"Cid"}))

	require.NoError(t, cache.InvalidateFiles("/a.py"))
	_, ok, _ := cache.Get(ctx, "/a.py", "d")
	assert.False(t, ok)
	_, ok, _ = cache.Get(ctx, "/a.pyx", "d")
	assert.True(t, ok, "path prefix of another file is kept")

	require.NoError(t, cache.InvalidateAll())
	_, ok, _ = cache.Get(ctx, "/b.py", "d")
	assert.False(t, ok)
}

func TestCachingResolver_HitsCacheForSameContent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(file, []byte("x = 1\n"), 0o644))

	src := &countingSource{m: Map{"Ann"}}
	r := NewCachingResolver(src, newTestCache(t), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := r.Resolve(ctx, file)
		require.NoError(t, err)
		assert.Equal(t, Map{"Ann"}, m)
	}
	assert.Equal(t, int32(1), src.calls.Load())

	require.NoError(t, os.WriteFile(file, []byte("x = 2\n"), 0o644))
	_, err := r.Resolve(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load(), "changed content misses")
}

func TestCachingResolver_DoesNotCacheFailures(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(file, []byte("x = 1\n"), 0o644))

	src := &countingSource{m: Map{}, err: fmt.Errorf("%w: untracked", ErrBlameUnavailable)}
	r := NewCachingResolver(src, newTestCache(t), nil)

	for i := 0; i < 2; i++ {
		m, err := r.Resolve(context.Background(), file)
		assert.ErrorIs(t, err, ErrBlameUnavailable)
		assert.Equal(t, 0, m.Lines())
	}
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCachingResolver_MissingFileDelegates(t *testing.T) {
	src := &countingSource{m: Map{}, err: ErrBlameUnavailable}
	r := NewCachingResolver(src, newTestCache(t), nil)

	_, err := r.Resolve(context.Background(), filepath.Join(t.TempDir(), "gone.py"))
	assert.ErrorIs(t, err, ErrBlameUnavailable)
	assert.Equal(t, int32(1), src.calls.Load())
}

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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/tidy/services/tidy/storage/badger"
)

const cachePrefix = "blame/"

// DefaultCacheTTL is how long a cached map stays valid without a HEAD change.
const DefaultCacheTTL = time.Hour

// Invalidator drops cached blame data. Implemented by Cache.
type Invalidator interface {
	InvalidateAll() error
}

// Cache stores blame maps keyed by file path and content digest.
//
// A map is only reused while the file bytes are unchanged, so edits saved
// to disk never read stale authorship. Commits and checkouts do not change
// the bytes but do change authorship; HeadWatcher calls InvalidateAll for
// those.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// NewCache wraps an opened database. A non-positive ttl uses DefaultCacheTTL.
func NewCache(db *badger.DB, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{db: db, ttl: ttl}
}

func cacheKey(path, digest string) []byte {
	return []byte(cachePrefix + path + "\x00" + digest)
}

// Digest returns the content digest used in cache keys.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached map for (path, digest).
func (c *Cache) Get(ctx context.Context, path, digest string) (Map, bool, error) {
	raw, err := c.db.Get(ctx, cacheKey(path, digest))
	if errors.Is(err, badger.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read blame cache: %w", err)
	}
	var m Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, fmt.Errorf("decode blame cache entry: %w", err)
	}
	return m, true, nil
}

// Put stores m for (path, digest).
func (c *Cache) Put(ctx context.Context, path, digest string, m Map) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode blame cache entry: %w", err)
	}
	if err := c.db.Put(ctx, cacheKey(path, digest), raw, c.ttl); err != nil {
		return fmt.Errorf("write blame cache: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached map.
func (c *Cache) InvalidateAll() error {
	return c.db.DropPrefix([]byte(cachePrefix))
}

// InvalidateFiles drops every cached map for the given paths.
func (c *Cache) InvalidateFiles(paths ...string) error {
	for _, p := range paths {
		if err := c.db.DropPrefix([]byte(cachePrefix + p + "\x00")); err != nil {
			return err
		}
	}
	return nil
}

// CachingResolver serves blame maps from a Cache and falls back to a Source.
//
// Failed resolutions are not cached: a file that becomes tracked later
// must pick up blame on the next run.
//
// Thread Safety: Safe for concurrent use.
type CachingResolver struct {
	source Source
	cache  *Cache
	logger *slog.Logger
}

// NewCachingResolver composes cache and source.
func NewCachingResolver(source Source, cache *Cache, logger *slog.Logger) *CachingResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingResolver{
		source: source,
		cache:  cache,
		logger: logger.With(slog.String("component", "blame_cache")),
	}
}

// Resolve implements Source.
func (r *CachingResolver) Resolve(ctx context.Context, path string) (Map, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		// Let the source report the failure in its own terms.
		return r.source.Resolve(ctx, path)
	}
	digest := Digest(content)

	if m, ok, err := r.cache.Get(ctx, path, digest); err != nil {
		r.logger.Warn("Blame cache read failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	} else if ok {
		return m, nil
	}

	m, err := r.source.Resolve(ctx, path)
	if err != nil {
		return m, err
	}
	if err := r.cache.Put(ctx, path, digest, m); err != nil {
		r.logger.Warn("Blame cache write failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return m, nil
}

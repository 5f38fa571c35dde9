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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/tidy/services/tidy/aggregate"
	"github.com/AleutianAI/tidy/services/tidy/blame"
	"github.com/AleutianAI/tidy/services/tidy/config"
	"github.com/AleutianAI/tidy/services/tidy/lint"
	"github.com/AleutianAI/tidy/services/tidy/storage/badger"
)

// stack is everything a run needs, built from one configuration.
type stack struct {
	registry *lint.Registry
	invoker  *lint.Invoker
	cache    *blame.Cache
	runner   *aggregate.Runner

	db *badger.DB
}

// buildStack wires analyzers, the cached blame resolver and the runner.
//
// Description:
//
//	The blame cache lives in blame.cache_dir, or in memory when that is
//	empty. The caller must call close.
func buildStack(c config.Config, logger *slog.Logger) (*stack, error) {
	registry, err := c.Registry()
	if err != nil {
		return nil, err
	}
	invoker := lint.NewInvoker(registry, lint.WithInvokerLogger(logger))

	blameOpts, err := c.BlameOptions(logger)
	if err != nil {
		return nil, err
	}

	dbCfg := badger.InMemoryConfig()
	if c.Blame.CacheDir != "" {
		dbCfg = badger.DefaultConfig(c.Blame.CacheDir)
	}
	dbCfg.Logger = logger
	db, err := badger.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("opening blame cache: %w", err)
	}

	cache := blame.NewCache(db, c.Blame.CacheTTL)
	source := blame.NewCachingResolver(blame.NewResolver(blameOpts...), cache, logger)

	runner := aggregate.NewRunner(registry, invoker, source,
		aggregate.WithAdapterTimeout(c.AdapterTimeout),
		aggregate.WithBlameRemap(c.Blame.RemapLiveLines),
		aggregate.WithLogger(logger),
	)

	return &stack{
		registry: registry,
		invoker:  invoker,
		cache:    cache,
		runner:   runner,
		db:       db,
	}, nil
}

func (s *stack) close() error {
	return s.db.Close()
}

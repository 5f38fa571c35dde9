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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidy_scheduler_runs_started_total",
		Help: "Total aggregation runs started",
	})

	runsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidy_scheduler_runs_applied_total",
		Help: "Total run results installed into an issue store",
	})

	runConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidy_scheduler_conflicts_total",
		Help: "Immediate requests dropped because a run was in flight",
	})

	staleDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidy_scheduler_stale_drops_total",
		Help: "Run results discarded because the buffer moved on",
	})

	debounceReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tidy_scheduler_debounce_replaced_total",
		Help: "Pending delayed requests superseded by a newer one",
	})

	delayedSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tidy_scheduler_delayed_skipped_total",
		Help: "Delayed requests that fired without starting a run, by reason",
	}, []string{"reason"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tidy_scheduler_run_duration_seconds",
		Help:    "Wall time of aggregation runs, applied or not",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	})
)

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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("tidy.lint")
	meter  = otel.Meter("tidy.lint")
)

var (
	invokeLatency  metric.Float64Histogram
	invokeFailures metric.Int64Counter
	issuesFound    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		invokeLatency, err = meter.Float64Histogram(
			"tidy_analyzer_duration_seconds",
			metric.WithDescription("Duration of analyzer invocations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		invokeFailures, err = meter.Int64Counter(
			"tidy_analyzer_failures_total",
			metric.WithDescription("Analyzer invocations that produced no result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		issuesFound, err = meter.Int64Histogram(
			"tidy_analyzer_issues_found",
			metric.WithDescription("Issues parsed per analyzer invocation"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startInvokeSpan(ctx context.Context, analyzer, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lint.Invoke",
		trace.WithAttributes(
			attribute.String("lint.analyzer", analyzer),
			attribute.String("lint.path", path),
		),
	)
}

func setInvokeSpanResult(span trace.Span, issueCount int) {
	span.SetAttributes(attribute.Int("lint.issue_count", issueCount))
}

func setInvokeSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, outcomeOf(err))
}

// recordInvokeMetrics records one invocation. outcome is "ok", "timeout",
// "unavailable" or "failed".
func recordInvokeMetrics(ctx context.Context, analyzer string, duration time.Duration, issueCount int, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("analyzer", analyzer),
		attribute.String("outcome", outcome),
	)
	invokeLatency.Record(ctx, duration.Seconds(), attrs)

	if outcome != "ok" {
		invokeFailures.Add(ctx, 1, attrs)
		return
	}
	issuesFound.Record(ctx, int64(issueCount), metric.WithAttributes(
		attribute.String("analyzer", analyzer),
	))
}

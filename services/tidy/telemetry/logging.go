// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// NewLogger builds the process logger.
//
// Inputs:
//
//	w - Destination, usually os.Stderr.
//	level - "debug", "info", "warn" or "error".
//	asJSON - JSON handler instead of text.
//
// Outputs:
//
//	*slog.Logger - The logger.
//	error - Non-nil for an unknown level.
func NewLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// LoggerWithTrace adds trace_id and span_id from ctx to logger. Without a
// valid span context the logger is returned unchanged.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}

	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// =============================================================================
// FILE LOGGING
// =============================================================================

// OpenLogFile opens {service}_{date}.log under dir for appending, creating
// dir when needed. A leading "~" expands to the home directory.
func OpenLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// NewTeeLogger logs to console like NewLogger and, in JSON, to file.
func NewTeeLogger(console, file io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	base, err := NewLogger(console, level, asJSON)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return base, nil
	}
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(level))
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: lvl})
	return slog.New(fanout{base.Handler(), fileHandler}), nil
}

// fanout sends each record to every member enabled for its level. A
// failing member does not stop the others.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, 0, len(f))
	for _, h := range f {
		out = append(out, fn(h))
	}
	return out
}

// expandPath expands a leading "~" to the user's home directory.
func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServiceName != "tidy" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "tidy")
	}
	if cfg.TraceExporter != "none" {
		t.Errorf("TraceExporter = %q, want %q", cfg.TraceExporter, "none")
	}
	if cfg.MetricExporter != "prometheus" {
		t.Errorf("MetricExporter = %q, want %q", cfg.MetricExporter, "prometheus")
	}
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	if !errors.Is(err, ErrNilContext) {
		t.Errorf("Init(nil) error = %v, want %v", err, ErrNilContext)
	}
}

func TestInit_Noop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_Stdout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_OTLPDoesNotDialEagerly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "otlp"
	cfg.MetricExporter = "none"
	cfg.OTLPEndpoint = "127.0.0.1:1"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_PrometheusOncePerProcess(t *testing.T) {
	shutdown, err := Init(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	_, err = Init(context.Background(), DefaultConfig())
	if !errors.Is(err, ErrPrometheusInUse) {
		t.Errorf("second Init() error = %v, want %v", err, ErrPrometheusInUse)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "carrier-pigeon"

	_, err := Init(context.Background(), cfg)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("Init() error = %v, want %v", err, ErrUnknownExporter)
	}

	cfg = DefaultConfig()
	cfg.MetricExporter = "statsd"
	_, err = Init(context.Background(), cfg)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("Init() error = %v, want %v", err, ErrUnknownExporter)
	}
}

func TestMetricsHandler(t *testing.T) {
	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("body missing default collectors: %.200s", body)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", true)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("warn record missing: %s", out)
	}

	if _, err := NewLogger(&buf, "chatty", false); err == nil {
		t.Error("NewLogger() accepted an unknown level")
	}
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(context.Background(), logger).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("trace_id without a span: %s", buf.String())
	}
	buf.Reset()

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	LoggerWithTrace(ctx, logger).Info("traced")
	if !strings.Contains(buf.String(), traceID.String()) {
		t.Errorf("output missing trace id: %s", buf.String())
	}

	if LoggerWithTrace(ctx, nil) == nil {
		t.Error("nil logger should fall back to the default")
	}
}

func TestNewTeeLogger(t *testing.T) {
	var console, file bytes.Buffer
	logger, err := NewTeeLogger(&console, &file, "info", false)
	if err != nil {
		t.Fatalf("NewTeeLogger() error = %v", err)
	}
	logger.With(slog.String("component", "test")).Info("both")
	logger.Debug("neither")

	if !strings.Contains(console.String(), "msg=both") {
		t.Errorf("console missing text record: %s", console.String())
	}
	if !strings.Contains(file.String(), `"msg":"both"`) || !strings.Contains(file.String(), `"component":"test"`) {
		t.Errorf("file missing JSON record: %s", file.String())
	}
	if strings.Contains(console.String()+file.String(), "neither") {
		t.Error("debug record written at info level")
	}

	if _, err := NewTeeLogger(&console, &file, "chatty", false); err == nil {
		t.Error("NewTeeLogger() accepted an unknown level")
	}
}

func TestOpenLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	f, err := OpenLogFile(dir, "tidy")
	if err != nil {
		t.Fatalf("OpenLogFile() error = %v", err)
	}
	defer f.Close()

	want := "tidy_" + time.Now().Format("2006-01-02") + ".log"
	if filepath.Base(f.Name()) != want {
		t.Errorf("file name = %q, want %q", filepath.Base(f.Name()), want)
	}

	t.Setenv("HOME", dir)
	if got := expandPath("~/x"); got != filepath.Join(dir, "x") {
		t.Errorf("expandPath(~/x) = %q", got)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for tidy.
//
// The lint, blame and aggregate packages call otel.Tracer and otel.Meter
// directly. Until Init runs those are no-ops; after Init they export
// through the configured backends. Scheduler counters are registered with
// the default Prometheus registry and are served by MetricsHandler either
// way.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Thread Safety
//
// Init should be called once at startup. Everything else is safe for
// concurrent use.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	// ErrNilContext is returned when Init receives a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter type")

	// ErrPrometheusInUse is returned when the prometheus exporter was
	// already created in this process.
	ErrPrometheusInUse = errors.New("telemetry: prometheus exporter already initialized")
)

// Config selects exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// TraceExporter is "otlp", "stdout" or "none".
	TraceExporter string

	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string

	// OTLPEndpoint is the gRPC OTLP receiver for traces.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for the OTLP connection.
	OTLPInsecure bool
}

// DefaultConfig exports metrics for Prometheus and no traces.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "tidy",
		ServiceVersion: "0.1.0",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
}

var (
	serviceNameKey    = attribute.Key("service.name")
	serviceVersionKey = attribute.Key("service.version")
)

// exporterEnabled reports whether name selects an exporter at all.
func exporterEnabled(name string) bool {
	return name != "" && name != "none"
}

// Init installs the global tracer and meter providers.
//
// Inputs:
//
//	ctx - Context for exporter setup.
//	cfg - Exporter selection.
//
// Outputs:
//
//	shutdown - Flushes and stops the providers. Must be called on exit.
//	error - Non-nil if an exporter cannot be created.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var closers []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		errs := make([]error, 0, len(closers))
		for _, c := range closers {
			errs = append(errs, c(ctx))
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes("",
		serviceNameKey.String(cfg.ServiceName),
		serviceVersionKey.String(cfg.ServiceVersion),
	)

	if exporterEnabled(cfg.TraceExporter) {
		tp, closeConn, err := initTracer(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		closers = append(closers, tp.Shutdown, closeConn)
	}

	if exporterEnabled(cfg.MetricExporter) {
		mp, err := initMeter(cfg, res)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("setting up metrics: %w", err)
		}
		otel.SetMeterProvider(mp)
		closers = append(closers, mp.Shutdown)
	}

	return shutdown, nil
}

func initTracer(ctx context.Context, cfg Config, res *resource.Resource) (*trace.TracerProvider, func(context.Context) error, error) {
	var exporter trace.SpanExporter
	var err error
	closeConn := func(context.Context) error { return nil }

	switch cfg.TraceExporter {
	case "otlp":
		creds := credentials.NewClientTLSFromCert(nil, "")
		if cfg.OTLPInsecure {
			creds = insecure.NewCredentials()
		}
		conn, connErr := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
		if connErr != nil {
			return nil, nil, fmt.Errorf("dialing collector %s: %w", cfg.OTLPEndpoint, connErr)
		}
		// The exporter does not own a connection passed to it.
		closeConn = func(context.Context) error { return conn.Close() }
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		_ = closeConn(ctx)
		return nil, nil, fmt.Errorf("%s span exporter: %w", cfg.TraceExporter, err)
	}

	tp := trace.NewTracerProvider(trace.WithResource(res), trace.WithBatcher(exporter))
	return tp, closeConn, nil
}

var (
	prometheusOnce sync.Once
	prometheusErr  error
)

func initMeter(cfg Config, res *resource.Resource) (*metric.MeterProvider, error) {
	var reader metric.Reader
	switch cfg.MetricExporter {
	case "prometheus":
		// The exporter registers a collector with the default registry, which
		// may happen only once per process.
		var exporter *promexporter.Exporter
		prometheusOnce.Do(func() {
			exporter, prometheusErr = promexporter.New()
		})
		if prometheusErr != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", prometheusErr)
		}
		if exporter == nil {
			return nil, ErrPrometheusInUse
		}
		reader = exporter
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		reader = metric.NewPeriodicReader(exporter)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
	return metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader)), nil
}

// MetricsHandler serves the default Prometheus registry, which holds the
// scheduler counters and, with the prometheus exporter, the OTel metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

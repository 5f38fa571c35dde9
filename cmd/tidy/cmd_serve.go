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
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidy/services/tidy/config"
	"github.com/AleutianAI/tidy/services/tidy/server"
	"github.com/AleutianAI/tidy/services/tidy/telemetry"
)

func runServeCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	me, err := cfg.MyName()
	if err != nil {
		return err
	}
	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("Closing blame cache failed", slog.String("error", err.Error()))
		}
	}()
	st.invoker.Detect()

	if logLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	sessions := server.NewSessions(st.runner, server.SessionOptions{
		Delay:           cfg.Delay,
		Me:              me,
		EventsPerSecond: cfg.Server.EventsPerSecond,
		Burst:           cfg.Server.Burst,
		Logger:          logger,
	})
	return server.New(cfg.Server.Addr, sessions, st.invoker, logger).Run(ctx)
}

// telemetryConfig maps the telemetry section onto exporter settings.
func telemetryConfig(c config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = server.ServiceVersion
	tc.TraceExporter = c.Telemetry.TraceExporter
	tc.MetricExporter = c.Telemetry.MetricExporter
	if c.Telemetry.OTLPEndpoint != "" {
		tc.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	}
	return tc
}

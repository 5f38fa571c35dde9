// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes per-buffer schedulers to editor plugins over HTTP.
//
// Each buffer an editor opens becomes a Session: a RemoteBuffer fed by
// editor events, an issue store, a scheduler and a websocket sink that
// pushes markers and status lines back to the editor.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/tidy/services/tidy/telemetry"
)

// RegisterRoutes registers the /v1/tidy endpoints.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/tidy/buffers - Open a buffer session
//	DELETE /v1/tidy/buffers/:id - Close a buffer session
//	POST   /v1/tidy/buffers/:id/events - Report save, load, idle or focus
//	GET    /v1/tidy/buffers/:id/issues - Issues, optionally at a line or region
//	GET    /v1/tidy/buffers/:id/next - Line of the next issue
//	GET    /v1/tidy/buffers/:id/ws - Marker and status stream
//	GET    /v1/tidy/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	tidy := rg.Group("/tidy")
	{
		tidy.GET("/health", handlers.HandleHealth)

		buffers := tidy.Group("/buffers")
		buffers.POST("", handlers.HandleOpen)
		buffers.DELETE("/:id", handlers.HandleClose)
		buffers.POST("/:id/events", handlers.HandleEvent)
		buffers.GET("/:id/issues", handlers.HandleIssues)
		buffers.GET("/:id/next", handlers.HandleNext)
		buffers.GET("/:id/ws", handlers.HandleWebSocket)
	}
}

// NewRouter builds the engine with tracing, recovery and /metrics.
func NewRouter(handlers *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}

// Server runs the daemon.
type Server struct {
	sessions *Sessions
	http     *http.Server
	logger   *slog.Logger
}

// New creates a server listening on addr.
func New(addr string, sessions *Sessions, detector Detector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	handlers := NewHandlers(sessions, detector, logger)
	return &Server{
		sessions: sessions,
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(handlers, "tidy"),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then closes every session and shuts
// the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", slog.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.sessions.CloseAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", s.http.Addr, err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	// Closing sessions ends websocket streams, which Shutdown does not track.
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

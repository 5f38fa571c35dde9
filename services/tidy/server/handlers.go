// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/tidy/services/tidy/issues"
	"github.com/AleutianAI/tidy/services/tidy/telemetry"
)

// nextJoinTimeout bounds how long a next-issue query waits for an
// in-flight run.
const nextJoinTimeout = time.Second

var upgrader = websocket.Upgrader{
	// Editor plugins connect from localhost without an Origin header.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// Detector reports analyzer availability. Implemented by *lint.Invoker.
type Detector interface {
	Detect() map[string]bool
}

// Handlers serves the tidy HTTP API.
type Handlers struct {
	sessions *Sessions
	detector Detector
	logger   *slog.Logger
}

// NewHandlers creates the API handlers. detector may be nil.
func NewHandlers(sessions *Sessions, detector Detector, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		sessions: sessions,
		detector: detector,
		logger:   logger.With(slog.String("component", "handlers")),
	}
}

// session resolves the :id parameter, writing a 404 when unknown.
func (h *Handlers) session(c *gin.Context) (*Session, bool) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{
			Error: err.Error(),
			Code:  "BUFFER_NOT_FOUND",
		})
		return nil, false
	}
	return sess, true
}

// HandleOpen handles POST /v1/tidy/buffers.
func (h *Handlers) HandleOpen(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	sess, err := h.sessions.Open(req.Path)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error(), Code: "SHUTTING_DOWN"})
		return
	}
	c.JSON(http.StatusCreated, OpenResponse{BufferID: sess.ID})
}

// HandleClose handles DELETE /v1/tidy/buffers/:id.
func (h *Handlers) HandleClose(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error(), Code: "BUFFER_NOT_FOUND"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleEvent handles POST /v1/tidy/buffers/:id/events.
//
// Description:
//
//	Mirrors the reported buffer state, then fires the matching trigger.
//	A path change invalidates everything shown for the old file first.
func (h *Handlers) HandleEvent(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(slog.String("buffer_id", sess.ID))

	if !sess.Allow() {
		logger.Warn("Event rate limited")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many events", Code: "RATE_LIMITED"})
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	path := req.Path
	if path == "" {
		path = sess.Buffer.FileName()
	}
	var text []byte
	switch {
	case req.Text != nil:
		text = []byte(*req.Text)
	case (req.Event == EventIdle || req.Event == EventFocus) && path == sess.Buffer.FileName():
		// Keep the last content the editor sent.
		text = sess.Buffer.Text()
	}

	if sess.Buffer.Update(path, text, req.Modified) {
		logger.Debug("Buffer switched files", slog.String("path", path))
		sess.Scheduler.Invalidate()
	}

	started := false
	switch req.Event {
	case EventSave:
		started = sess.Scheduler.OnSave()
	case EventLoad:
		started = sess.Scheduler.OnLoad()
	case EventIdle:
		sess.Scheduler.OnIdleAfterEdit()
	case EventFocus:
		sess.Scheduler.OnFocus()
	}

	c.JSON(http.StatusAccepted, EventResponse{
		Started:    started,
		State:      sess.Scheduler.State().String(),
		Generation: sess.Scheduler.Generation(),
	})
}

// HandleIssues handles GET /v1/tidy/buffers/:id/issues.
//
// Query parameters (optional):
//
//	line - Only issues on this 1-based line
//	begin, end - Only issues whose region overlaps [begin, end)
func (h *Handlers) HandleIssues(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	// Issues and blame must come from the same installed run.
	snap := sess.Store.Snapshot()
	resp := IssuesResponse{Path: snap.Path, Generation: snap.Generation}

	found := snap.Issues
	if raw := c.Query("line"); raw != "" {
		line, err := strconv.Atoi(raw)
		if err != nil || line < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "line must be a positive integer", Code: "INVALID_PARAMETER"})
			return
		}
		found = snap.IssuesAtLine(line)
		resp.Messages = snap.Describe(line)
	} else if rawBegin, rawEnd := c.Query("begin"), c.Query("end"); rawBegin != "" || rawEnd != "" {
		begin, errB := strconv.Atoi(rawBegin)
		end, errE := strconv.Atoi(rawEnd)
		if errB != nil || errE != nil || begin < 0 || end < begin {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "begin and end must satisfy 0 <= begin <= end", Code: "INVALID_PARAMETER"})
			return
		}
		found = snap.IssuesAtRegion(issues.Region{Begin: begin, End: end})
	}

	me := h.sessions.Me()
	resp.Issues = make([]IssueView, 0, len(found))
	for _, is := range found {
		author, _ := snap.Blame.Author(is.Line)
		resp.Issues = append(resp.Issues, IssueView{
			Issue:  is,
			Author: author,
			Mine:   snap.IsMine(is, me),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// HandleNext handles GET /v1/tidy/buffers/:id/next?line=N.
//
// Waits briefly for an in-flight run so the answer reflects it.
func (h *Handlers) HandleNext(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	after := 0
	if raw := c.Query("line"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "line must be a non-negative integer", Code: "INVALID_PARAMETER"})
			return
		}
		after = n
	}

	if !sess.Scheduler.Join(nextJoinTimeout) {
		h.logger.Debug("Run still in flight, answering from current results", slog.String("buffer_id", sess.ID))
	}
	line, found := sess.Store.NextLine(after)
	c.JSON(http.StatusOK, NextResponse{Line: line, Found: found})
}

// HandleWebSocket handles GET /v1/tidy/buffers/:id/ws.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	h.logger.Debug("Websocket subscriber connected", slog.String("buffer_id", sess.ID))
	sess.Sink.Serve(c.Request.Context(), conn)
}

// HandleHealth handles GET /v1/tidy/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Buffers: h.sessions.Len(),
	}
	if h.detector != nil {
		resp.Analyzers = h.detector.Detect()
	}
	c.JSON(http.StatusOK, resp)
}

// statusFor maps package errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionsClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

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

	"github.com/AleutianAI/tidy/services/tidy/issues"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

var (
	// ErrSessionNotFound indicates an unknown or closed buffer id.
	ErrSessionNotFound = errors.New("buffer session not found")

	// ErrSessionsClosed indicates the session manager has shut down.
	ErrSessionsClosed = errors.New("session manager closed")
)

// Event names accepted by the events endpoint.
const (
	EventSave  = "save"
	EventLoad  = "load"
	EventIdle  = "idle"
	EventFocus = "focus"
)

// =============================================================================
// REQUESTS
// =============================================================================

// OpenRequest opens a buffer session.
type OpenRequest struct {
	// Path is the file shown in the buffer. Empty for unsaved buffers.
	Path string `json:"path"`
}

// EventRequest reports an editor event for a buffer.
type EventRequest struct {
	// Event is one of save, load, idle or focus.
	Event string `json:"event" binding:"required,oneof=save load idle focus"`

	// Path is the file the buffer now shows. Empty keeps the current one.
	Path string `json:"path"`

	// Text is the full buffer content. Omitted on save and load means the
	// file on disk.
	Text *string `json:"text,omitempty"`

	// Modified reports unsaved changes.
	Modified bool `json:"modified"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// OpenResponse carries the new buffer id.
type OpenResponse struct {
	BufferID string `json:"buffer_id"`
}

// EventResponse reports what the scheduler did with an event.
type EventResponse struct {
	// Started is true when a run began immediately.
	Started bool `json:"started"`

	// State is the scheduler state after the event.
	State string `json:"state"`

	// Generation is the latest run generation.
	Generation uint64 `json:"generation"`
}

// IssueView is an issue with its ownership resolved.
type IssueView struct {
	issues.Issue
	Author string `json:"author,omitempty"`
	Mine   bool   `json:"mine"`
}

// IssuesResponse lists issues of the last applied run.
type IssuesResponse struct {
	Path       string      `json:"path"`
	Generation uint64      `json:"generation"`
	Issues     []IssueView `json:"issues"`

	// Messages holds "[reporter] message" lines when a line was queried.
	Messages []string `json:"messages,omitempty"`
}

// NextResponse is the line of the next issue.
type NextResponse struct {
	Line  int  `json:"line"`
	Found bool `json:"found"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Buffers   int             `json:"buffers"`
	Analyzers map[string]bool `json:"analyzers,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Message is pushed to websocket subscribers.
type Message struct {
	// Type is paint, status, clear_status or clear_markers.
	Type   string          `json:"type"`
	Mine   []issues.Region `json:"mine,omitempty"`
	Others []issues.Region `json:"others,omitempty"`
	Text   string          `json:"text,omitempty"`
}

// Message types.
const (
	MessagePaint        = "paint"
	MessageStatus       = "status"
	MessageClearStatus  = "clear_status"
	MessageClearMarkers = "clear_markers"
)

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
	"context"
	"errors"

	"github.com/AleutianAI/tidy/services/tidy/aggregate"
	"github.com/AleutianAI/tidy/services/tidy/issues"
)

// Sentinel errors for the scheduler package.
var (
	// ErrRunInFlight indicates an immediate request arrived while a run was
	// already running. The request is dropped.
	ErrRunInFlight = errors.New("run already in flight")

	// ErrClosed indicates the scheduler has been closed.
	ErrClosed = errors.New("scheduler closed")
)

// State is the scheduler's externally visible state.
type State int

const (
	// StateIdle means no timer is armed and no run is in flight.
	StateIdle State = iota

	// StateDelayed means a debounce timer is armed.
	StateDelayed

	// StateRunning means a run is in flight. A timer may also be armed.
	StateRunning
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDelayed:
		return "delayed-pending"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Buffer is the editor buffer a scheduler serves.
//
// Implementations must be safe for concurrent use: the scheduler reads it
// from timer and run goroutines.
type Buffer interface {
	// FileName is the buffer's file identity. Empty for unsaved buffers.
	FileName() string

	// IsModified reports unsaved changes.
	IsModified() bool

	// Text returns the current buffer content.
	Text() []byte

	// LineRegion maps a 1-based line to its buffer region, false when the
	// buffer has no such line.
	LineRegion(line int) (issues.Region, bool)
}

// Sink presents results. Methods are called with the scheduler's lock
// held, so implementations must not call back into the scheduler
// synchronously.
type Sink interface {
	Paint(mine, others []issues.Region)
	SetStatus(text string)
	ClearStatus()
	ClearMarkers()
}

// Runner performs aggregation runs. Implemented by *aggregate.Runner.
type Runner interface {
	Run(ctx context.Context, target aggregate.Target, gen uint64) *aggregate.Result
}

var _ Runner = (*aggregate.Runner)(nil)

// NopSink discards everything. Useful for headless schedulers.
type NopSink struct{}

func (NopSink) Paint(mine, others []issues.Region) {}
func (NopSink) SetStatus(text string)              {}
func (NopSink) ClearStatus()                       {}
func (NopSink) ClearMarkers()                      {}

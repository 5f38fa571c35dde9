// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler decides when a buffer is re-checked and applies the
// results.
//
// # Description
//
// One Scheduler serves one buffer. Saves and loads start a run at once;
// edits and focus changes arm a debounce timer that a newer request
// replaces rather than queues. At most one run is in flight per buffer, and
// a finished run is applied only if it is still the latest one and the
// buffer still shows the file it analyzed.
//
// # State Machine
//
//	idle ──RequestImmediate──▶ running ──complete──▶ idle
//	idle ──RequestDelayed───▶ delayed-pending ──fire──▶ running | idle
//	delayed-pending ──RequestDelayed──▶ delayed-pending (timer replaced)
//	delayed-pending ──CancelPending / RequestImmediate──▶ idle | running
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single mutex serializes every
// transition, including store installation and sink calls.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/tidy/services/tidy/aggregate"
	"github.com/AleutianAI/tidy/services/tidy/issues"
)

// DefaultDelay is the debounce window for delayed requests.
const DefaultDelay = 4 * time.Second

// pendingRequest is the latest delayed request.
type pendingRequest struct {
	target aggregate.Target
	force  bool
}

// Scheduler is the per-buffer update state machine.
//
// Thread Safety: Safe for concurrent use.
type Scheduler struct {
	mu sync.Mutex

	buffer Buffer
	store  *issues.Store
	sink   Sink
	runner Runner
	me     *regexp.Regexp
	delay  time.Duration
	logger *slog.Logger

	// Debounce timer. timerSeq identifies the armed timer so a callback
	// that lost the race with Stop can tell it was superseded.
	timer    *time.Timer
	timerSeq uint64
	pending  pendingRequest

	// In-flight run.
	running    bool
	generation uint64
	owner      string
	done       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDelay sets the debounce window.
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithMyName sets the identity pattern used to split issues into mine and
// others. It should be compiled case-insensitive.
func WithMyName(me *regexp.Regexp) Option {
	return func(s *Scheduler) {
		s.me = me
	}
}

// WithSink sets the presentation sink. Defaults to NopSink.
func WithSink(sink Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scheduler for buffer that installs results into store.
//
// Inputs:
//
//	buffer - The buffer being checked
//	store - Issue store owned by this buffer
//	runner - Performs aggregation runs
//	opts - Optional configuration
//
// Outputs:
//
//	*Scheduler - Idle scheduler. Call Close when the buffer goes away.
func New(buffer Buffer, store *issues.Store, runner Runner, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		buffer: buffer,
		store:  store,
		runner: runner,
		sink:   NopSink{},
		delay:  DefaultDelay,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	return s
}

// Store returns the scheduler's issue store.
func (s *Scheduler) Store() *issues.Store {
	return s.store
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Scheduler) stateLocked() State {
	switch {
	case s.running:
		return StateRunning
	case s.timer != nil:
		return StateDelayed
	default:
		return StateIdle
	}
}

// Generation returns the generation of the most recently started run.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// =============================================================================
// REQUESTS
// =============================================================================

// RequestImmediate starts a run for target now.
//
// Description:
//
//	Cancels any armed timer and launches a run with a fresh generation.
//	When a run is already in flight the request is dropped: it is never
//	queued.
//
// Outputs:
//
//	bool - True if a run was started
func (s *Scheduler) RequestImmediate(target aggregate.Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("Request after close", slog.String("error", ErrClosed.Error()))
		return false
	}
	return s.startLocked(target)
}

// RequestDelayed arms the debounce timer for target.
//
// Description:
//
//	Replaces any armed timer, so only the last request within the window
//	takes effect. When the timer fires: a buffer that now shows another
//	file clears the status and does nothing; an unmodified buffer does
//	nothing unless force is set; otherwise the request behaves as
//	RequestImmediate.
func (s *Scheduler) RequestDelayed(target aggregate.Target, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.stopTimerLocked() {
		debounceReplaced.Inc()
	}

	s.pending = pendingRequest{target: target, force: force}
	s.timerSeq++
	seq := s.timerSeq
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.fire(seq)
	})
}

// CancelPending disarms the debounce timer without other side effects.
func (s *Scheduler) CancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

// stopTimerLocked disarms the timer and reports whether one was armed.
func (s *Scheduler) stopTimerLocked() bool {
	if s.timer == nil {
		return false
	}
	// A callback that already started will see the bumped sequence.
	if s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
	s.timerSeq++
	return true
}

// fire handles an expired debounce timer.
func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || seq != s.timerSeq {
		return
	}
	s.timer = nil
	req := s.pending

	if s.buffer.FileName() != req.target.Path {
		delayedSkipped.WithLabelValues("file_switched").Inc()
		s.logger.Debug("Delayed request skipped, buffer switched files",
			slog.String("target", req.target.Path),
			slog.String("buffer", s.buffer.FileName()),
		)
		s.sink.ClearStatus()
		return
	}
	if !req.force && !s.buffer.IsModified() {
		delayedSkipped.WithLabelValues("unmodified").Inc()
		return
	}
	s.startLocked(req.target)
}

// startLocked launches a run. Caller holds s.mu.
func (s *Scheduler) startLocked(target aggregate.Target) bool {
	if s.running {
		runConflicts.Inc()
		s.logger.Info("Run request dropped",
			slog.String("path", target.Path),
			slog.String("reason", ErrRunInFlight.Error()),
		)
		return false
	}
	s.stopTimerLocked()

	s.running = true
	s.generation++
	gen := s.generation
	s.owner = target.Path
	done := make(chan struct{})
	s.done = done

	ctx, cancel := context.WithCancel(s.ctx)

	runsStarted.Inc()
	s.logger.Debug("Run started",
		slog.String("path", target.Path),
		slog.Bool("live", target.Live),
		slog.Uint64("generation", gen),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		result := s.runner.Run(ctx, target, gen)
		s.complete(result, done)
	}()
	return true
}

// =============================================================================
// COMPLETION
// =============================================================================

// complete applies a finished run if it is still current.
func (s *Scheduler) complete(result *aggregate.Result, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(done)

	s.running = false
	if s.done == done {
		s.done = nil
	}
	runDuration.Observe(result.Duration.Seconds())

	if s.closed {
		return
	}
	if result.Generation != s.generation || s.buffer.FileName() != s.owner || result.Target.Path != s.owner {
		staleDrops.Inc()
		s.logger.Debug("Stale run dropped",
			slog.String("path", result.Target.Path),
			slog.Uint64("generation", result.Generation),
			slog.Uint64("current", s.generation),
		)
		return
	}

	gen := result.Generation
	s.store.Replace(gen, result.Target.Path, result.Issues, result.Blame)
	_, skipped, err := s.store.AssignRegions(gen, s.buffer.LineRegion)
	if err != nil {
		s.logger.Warn("Region assignment failed", slog.String("error", err.Error()))
	}
	runsApplied.Inc()

	mine, others := s.store.Snapshot().Partition(s.me)
	mineRegions := regionsOf(mine)
	s.sink.Paint(mineRegions, regionsOf(others))
	s.sink.SetStatus(summarize(result, len(mineRegions), skipped))
}

// regionsOf collects assigned regions, skipping issues without one.
func regionsOf(found []issues.Issue) []issues.Region {
	out := make([]issues.Region, 0, len(found))
	for _, is := range found {
		if is.Region != nil {
			out = append(out, *is.Region)
		}
	}
	return out
}

// summarize builds the status line for an applied run.
func summarize(result *aggregate.Result, mine, skipped int) string {
	var b strings.Builder
	switch n := len(result.Issues); n {
	case 0:
		b.WriteString("tidy: no issues")
	case 1:
		fmt.Fprintf(&b, "tidy: 1 issue (%d mine)", mine)
	default:
		fmt.Fprintf(&b, "tidy: %d issues (%d mine)", n, mine)
	}
	if skipped > 0 {
		fmt.Fprintf(&b, ", %d beyond end of buffer", skipped)
	}
	if len(result.Failures) > 0 {
		names := make([]string, 0, len(result.Failures))
		for _, f := range result.Failures {
			names = append(names, f.Analyzer)
		}
		fmt.Fprintf(&b, ", failed: %s", strings.Join(names, ", "))
	}
	return b.String()
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Join waits for the in-flight run, if any, to finish.
//
// Outputs:
//
//	bool - True if no run is in flight on return
func (s *Scheduler) Join(timeout time.Duration) bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// Invalidate discards everything shown for the buffer.
//
// Description:
//
//	Disarms the timer, makes any in-flight result stale, clears the
//	store and clears the sink. Used when the buffer is reloaded from a
//	different file or its results are known to be wrong.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	s.generation++
	s.store.Clear()
	s.sink.ClearMarkers()
	s.sink.ClearStatus()
}

// Close disarms the timer, cancels the in-flight run and waits for every
// goroutine the scheduler started. Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.stopTimerLocked()
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// =============================================================================
// TRIGGERS
// =============================================================================

// OnSave checks the saved file immediately.
func (s *Scheduler) OnSave() bool {
	path := s.buffer.FileName()
	if path == "" {
		return false
	}
	return s.RequestImmediate(aggregate.DiskTarget(path))
}

// OnLoad checks a freshly opened file immediately.
func (s *Scheduler) OnLoad() bool {
	return s.OnSave()
}

// OnIdleAfterEdit schedules a check of the unsaved content. It fires only
// if the buffer is still modified when the timer expires.
func (s *Scheduler) OnIdleAfterEdit() {
	path := s.buffer.FileName()
	if path == "" {
		return
	}
	s.RequestDelayed(aggregate.LiveTarget(path, s.buffer.Text()), false)
}

// OnFocus schedules a forced check: of the unsaved content when the buffer
// is modified, of the file on disk otherwise.
func (s *Scheduler) OnFocus() {
	path := s.buffer.FileName()
	if path == "" {
		return
	}
	target := aggregate.DiskTarget(path)
	if s.buffer.IsModified() {
		target = aggregate.LiveTarget(path, s.buffer.Text())
	}
	s.RequestDelayed(target, true)
}

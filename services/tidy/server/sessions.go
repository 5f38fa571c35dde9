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
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/tidy/services/tidy/issues"
	"github.com/AleutianAI/tidy/services/tidy/scheduler"
)

// Session is one editor buffer served by the daemon.
type Session struct {
	ID        string
	Buffer    *RemoteBuffer
	Store     *issues.Store
	Scheduler *scheduler.Scheduler
	Sink      *WSSink
	Created   time.Time

	limiter *rate.Limiter
}

// Allow reports whether another event fits the session's rate limit.
func (s *Session) Allow() bool {
	return s.limiter.Allow()
}

func (s *Session) close() {
	s.Scheduler.Close()
	s.Sink.Close()
}

// SessionOptions configures every session a manager creates.
type SessionOptions struct {
	// Delay is the scheduler debounce window.
	Delay time.Duration

	// Me selects "mine" issues. Nil matches no author.
	Me *regexp.Regexp

	// EventsPerSecond and Burst bound the event rate per buffer.
	EventsPerSecond float64
	Burst           int

	Logger *slog.Logger
}

// Sessions owns the buffer sessions.
//
// Thread Safety: Safe for concurrent use.
type Sessions struct {
	runner scheduler.Runner
	opts   SessionOptions
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewSessions creates an empty session manager whose schedulers share
// runner.
func NewSessions(runner scheduler.Runner, opts SessionOptions) *Sessions {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EventsPerSecond <= 0 {
		opts.EventsPerSecond = 20
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	return &Sessions{
		runner:   runner,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "sessions")),
		sessions: make(map[string]*Session),
	}
}

// Open creates a session for a buffer showing path.
func (m *Sessions) Open(path string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrSessionsClosed
	}

	id := uuid.New().String()
	logger := m.opts.Logger.With(slog.String("buffer_id", id))
	buf := NewRemoteBuffer(path)
	store := issues.NewStore()
	sink := NewWSSink(logger)

	sess := &Session{
		ID:     id,
		Buffer: buf,
		Store:  store,
		Sink:   sink,
		Scheduler: scheduler.New(buf, store, m.runner,
			scheduler.WithDelay(m.opts.Delay),
			scheduler.WithMyName(m.opts.Me),
			scheduler.WithSink(sink),
			scheduler.WithLogger(logger),
		),
		Created: time.Now(),
		limiter: rate.NewLimiter(rate.Limit(m.opts.EventsPerSecond), m.opts.Burst),
	}
	m.sessions[id] = sess

	m.logger.Info("Buffer opened", slog.String("buffer_id", id), slog.String("path", path))
	return sess, nil
}

// Get returns the session with id.
func (m *Sessions) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Me returns the identity pattern sessions use.
func (m *Sessions) Me() *regexp.Regexp {
	return m.opts.Me
}

// Len returns the number of open sessions.
func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close shuts down the session with id, waiting for its in-flight run.
func (m *Sessions) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.close()
	m.logger.Info("Buffer closed", slog.String("buffer_id", id))
	return nil
}

// CloseAll shuts down every session and refuses new ones.
func (m *Sessions) CloseAll() {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.close()
		}(sess)
	}
	wg.Wait()
}

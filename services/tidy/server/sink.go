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
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/tidy/services/tidy/issues"
	"github.com/AleutianAI/tidy/services/tidy/scheduler"
)

const (
	// subscriberQueue is the per-subscriber message backlog. A subscriber
	// that falls further behind is disconnected and must resubscribe.
	subscriberQueue = 64

	writeWait = 5 * time.Second
)

// WSSink fans scheduler output out to websocket subscribers and remembers
// the current markers and status for late joiners.
//
// Thread Safety: Safe for concurrent use. Publishing never blocks.
type WSSink struct {
	mu         sync.Mutex
	subs       map[uint64]chan Message
	nextID     uint64
	lastPaint  *Message
	lastStatus *Message
	closed     bool
	logger     *slog.Logger
}

var _ scheduler.Sink = (*WSSink)(nil)

// NewWSSink creates a sink with no subscribers.
func NewWSSink(logger *slog.Logger) *WSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSink{
		subs:   make(map[uint64]chan Message),
		logger: logger.With(slog.String("component", "ws_sink")),
	}
}

// Paint implements scheduler.Sink.
func (s *WSSink) Paint(mine, others []issues.Region) {
	msg := Message{Type: MessagePaint, Mine: mine, Others: others}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPaint = &msg
	s.publishLocked(msg)
}

// SetStatus implements scheduler.Sink.
func (s *WSSink) SetStatus(text string) {
	msg := Message{Type: MessageStatus, Text: text}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStatus = &msg
	s.publishLocked(msg)
}

// ClearStatus implements scheduler.Sink.
func (s *WSSink) ClearStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStatus = nil
	s.publishLocked(Message{Type: MessageClearStatus})
}

// ClearMarkers implements scheduler.Sink.
func (s *WSSink) ClearMarkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPaint = nil
	s.publishLocked(Message{Type: MessageClearMarkers})
}

func (s *WSSink) publishLocked(msg Message) {
	for id, ch := range s.subs {
		select {
		case ch <- msg:
		default:
			// Its view would stay stale; closing makes the client
			// reconnect and replay the current markers and status.
			delete(s.subs, id)
			close(ch)
			s.logger.Warn("Subscriber queue full, disconnecting",
				slog.Uint64("subscriber", id),
				slog.String("type", msg.Type),
			)
		}
	}
}

// Subscribe registers a subscriber. The channel first receives the current
// markers and status, then every later message. It is closed when the
// subscriber cancels, when it overflows its queue, or when the sink closes.
func (s *WSSink) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberQueue)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}
	if s.lastPaint != nil {
		ch <- *s.lastPaint
	}
	if s.lastStatus != nil {
		ch <- *s.lastStatus
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (s *WSSink) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel.
func (s *WSSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *WSSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Serve streams messages to conn until the client goes away, ctx ends or
// the sink closes. It closes conn before returning.
func (s *WSSink) Serve(ctx context.Context, conn *websocket.Conn) {
	msgs, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// Reads detect the client closing; incoming payloads are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		_ = conn.Close()
		<-gone
	}()

	for {
		select {
		case <-ctx.Done():
			s.writeClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-gone:
			return
		case msg, ok := <-msgs:
			if !ok {
				if s.isClosed() {
					s.writeClose(conn, websocket.CloseNormalClosure, "buffer closed")
				} else {
					s.writeClose(conn, websocket.CloseTryAgainLater, "subscriber fell behind")
				}
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("Websocket write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *WSSink) writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait),
	)
}

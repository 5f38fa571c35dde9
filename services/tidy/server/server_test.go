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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tidy/services/tidy/aggregate"
	"github.com/AleutianAI/tidy/services/tidy/blame"
	"github.com/AleutianAI/tidy/services/tidy/issues"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// FIXTURES
// =============================================================================

type stubRunner struct {
	runs atomic.Int32
}

func (r *stubRunner) Run(ctx context.Context, target aggregate.Target, gen uint64) *aggregate.Result {
	r.runs.Add(1)
	return &aggregate.Result{
		Generation: gen,
		Target:     target,
		Issues: []issues.Issue{
			{Line: 1, Column: issues.Col(4), Code: "E225", Message: "missing whitespace", Reporter: "style-checker"},
			{Line: 3, Message: "trailing whitespace", Reporter: "style-checker"},
		},
		Blame:  blame.Map{"Jane Doe", "Bob Smith", blame.NotCommitted},
		Status: aggregate.StatusCompleted,
	}
}

type stubDetector map[string]bool

func (d stubDetector) Detect() map[string]bool { return d }

type fixture struct {
	t        *testing.T
	runner   *stubRunner
	sessions *Sessions
	router   *gin.Engine
	dir      string
}

func newFixture(t *testing.T, opts SessionOptions) *fixture {
	t.Helper()
	if opts.Delay == 0 {
		opts.Delay = 20 * time.Millisecond
	}
	if opts.EventsPerSecond == 0 {
		opts.EventsPerSecond = 1000
		opts.Burst = 1000
	}
	if opts.Me == nil {
		opts.Me = regexp.MustCompile("(?i)jane")
	}
	runner := &stubRunner{}
	sessions := NewSessions(runner, opts)
	t.Cleanup(sessions.CloseAll)

	handlers := NewHandlers(sessions, stubDetector{"style-checker": true}, nil)
	return &fixture{
		t:        t,
		runner:   runner,
		sessions: sessions,
		router:   NewRouter(handlers, "tidy-test"),
		dir:      t.TempDir(),
	}
}

func (f *fixture) file(name, body string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (f *fixture) do(method, url string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) open(path string) string {
	f.t.Helper()
	w := f.do(http.MethodPost, "/v1/tidy/buffers", OpenRequest{Path: path})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	var resp OpenResponse
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.BufferID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// =============================================================================
// TESTS
// =============================================================================

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	f.open("")

	w := f.do(http.MethodGet, "/v1/tidy/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Equal(t, 1, resp.Buffers)
	assert.True(t, resp.Analyzers["style-checker"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	w := f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tidy_scheduler_runs_started_total")
}

func TestOpenClose(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	id := f.open("/src/a.py")
	assert.Equal(t, 1, f.sessions.Len())

	w := f.do(http.MethodDelete, "/v1/tidy/buffers/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, f.sessions.Len())

	w = f.do(http.MethodDelete, "/v1/tidy/buffers/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "BUFFER_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestOpen_AfterShutdown(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	f.sessions.CloseAll()

	w := f.do(http.MethodPost, "/v1/tidy/buffers", OpenRequest{Path: "/src/a.py"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSaveThenQuery(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	path := f.file("mod.py", "x=1\ny = 2\nz = 3 \n")
	id := f.open(path)

	w := f.do(http.MethodPost, "/v1/tidy/buffers/"+id+"/events", EventRequest{Event: EventSave})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	ev := decode[EventResponse](t, w)
	assert.True(t, ev.Started)
	assert.Equal(t, uint64(1), ev.Generation)

	w = f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/next?line=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, NextResponse{Line: 3, Found: true}, decode[NextResponse](t, w))

	w = f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/issues", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[IssuesResponse](t, w)
	assert.Equal(t, path, resp.Path)
	require.Len(t, resp.Issues, 2)
	assert.Equal(t, "Jane Doe", resp.Issues[0].Author)
	assert.True(t, resp.Issues[0].Mine)
	require.NotNil(t, resp.Issues[0].Column)
	assert.Equal(t, 4, *resp.Issues[0].Column)
	assert.Equal(t, blame.NotCommitted, resp.Issues[1].Author)
	assert.True(t, resp.Issues[1].Mine, "uncommitted lines are mine")

	w = f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/issues?line=3", nil)
	resp = decode[IssuesResponse](t, w)
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, []string{"[style-checker] trailing whitespace"}, resp.Messages)

	// Line 1 spans bytes [0, 3).
	w = f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/issues?begin=0&end=2", nil)
	resp = decode[IssuesResponse](t, w)
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, 1, resp.Issues[0].Line)
}

func TestIssues_LineQueryPairsIssuesWithTheirBlame(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	id := f.open("/src/a.py")
	sess, err := f.sessions.Get(id)
	require.NoError(t, err)

	// Each installed run pairs the reporter with the author of line 1.
	runs := []struct {
		reporter string
		blame    blame.Map
	}{
		{"alice", blame.Map{"Alice"}},
		{"bob", blame.Map{"Bob"}},
	}
	want := map[string]string{"alice": "Alice", "bob": "Bob"}

	stop := make(chan struct{})
	swapped := make(chan struct{})
	go func() {
		defer close(swapped)
		for gen := uint64(1); ; gen++ {
			select {
			case <-stop:
				return
			default:
			}
			run := runs[gen%2]
			sess.Store.Replace(gen, "/src/a.py",
				[]issues.Issue{{Line: 1, Message: "finding", Reporter: run.reporter}}, run.blame)
		}
	}()
	defer func() {
		close(stop)
		<-swapped
	}()

	mismatched := 0
	for i := 0; i < 2000; i++ {
		w := f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/issues?line=1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[IssuesResponse](t, w)
		for j, is := range resp.Issues {
			if want[is.Reporter] != is.Author {
				mismatched++
			}
			assert.Equal(t, "["+is.Reporter+"] finding", resp.Messages[j])
		}
	}
	assert.Zero(t, mismatched, "issues and blame must come from one run")
}

func TestIssues_BadParameters(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	id := f.open("/src/a.py")

	for _, q := range []string{"line=zero", "line=0", "begin=5&end=1", "begin=x&end=2"} {
		w := f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/issues?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
	w := f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/next?line=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodGet, "/v1/tidy/buffers/nope/issues", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvent_Validation(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	id := f.open("/src/a.py")

	w := f.do(http.MethodPost, "/v1/tidy/buffers/"+id+"/events", map[string]string{"event": "keypress"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)

	w = f.do(http.MethodPost, "/v1/tidy/buffers/missing/events", EventRequest{Event: EventSave})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvent_RateLimited(t *testing.T) {
	f := newFixture(t, SessionOptions{EventsPerSecond: 0.001, Burst: 1})
	id := f.open("")

	w := f.do(http.MethodPost, "/v1/tidy/buffers/"+id+"/events", EventRequest{Event: EventFocus})
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = f.do(http.MethodPost, "/v1/tidy/buffers/"+id+"/events", EventRequest{Event: EventFocus})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)
}

func TestEvent_IdleRunsLiveContent(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	path := f.file("mod.py", "saved\n")
	id := f.open(path)

	text := "edited\nmore\nlines\n"
	w := f.do(http.MethodPost, "/v1/tidy/buffers/"+id+"/events", EventRequest{Event: EventIdle, Text: &text, Modified: true})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "delayed-pending", decode[EventResponse](t, w).State)

	require.Eventually(t, func() bool { return f.runner.runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	sess, err := f.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, text, string(sess.Buffer.Text()))
}

func TestEvent_PathSwitchInvalidates(t *testing.T) {
	// The focus event arms a timer that must not fire during the test.
	f := newFixture(t, SessionOptions{Delay: time.Hour})
	a := f.file("a.py", "1\n2\n3\n")
	b := f.file("b.py", "1\n")
	id := f.open(a)

	f.do(http.MethodPost, "/v1/tidy/buffers/"+id+"/events", EventRequest{Event: EventSave})
	w := f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/next", nil)
	require.True(t, decode[NextResponse](t, w).Found)

	w = f.do(http.MethodPost, "/v1/tidy/buffers/"+id+"/events", EventRequest{Event: EventFocus, Path: b})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(http.MethodGet, "/v1/tidy/buffers/"+id+"/issues", nil)
	resp := decode[IssuesResponse](t, w)
	assert.Empty(t, resp.Issues)
	assert.Empty(t, resp.Path)
}

func TestWebSocket_StreamsPaintAndStatus(t *testing.T) {
	f := newFixture(t, SessionOptions{})
	path := f.file("mod.py", "x=1\ny = 2\nz = 3 \n")
	id := f.open(path)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/tidy/buffers/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	sess, err := f.sessions.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sess.Sink.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, sess.Scheduler.OnSave())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var paint, status Message
	require.NoError(t, conn.ReadJSON(&paint))
	require.NoError(t, conn.ReadJSON(&status))

	assert.Equal(t, MessagePaint, paint.Type)
	assert.Equal(t, []issues.Region{{Begin: 0, End: 3}, {Begin: 10, End: 16}}, paint.Mine)
	assert.Empty(t, paint.Others)
	assert.Equal(t, MessageStatus, status.Type)
	assert.Equal(t, "tidy: 2 issues (2 mine)", status.Text)

	// Closing the buffer ends the stream.
	w := f.do(http.MethodDelete, "/v1/tidy/buffers/"+id, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

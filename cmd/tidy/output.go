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
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/tidy/services/tidy/aggregate"
	"github.com/AleutianAI/tidy/services/tidy/issues"
	"github.com/AleutianAI/tidy/services/tidy/scheduler"
)

// Tidy color palette
var (
	ColorTeal    = lipgloss.Color("#20B9B4") // file headers
	ColorSlate   = lipgloss.Color("#2C4A54") // authors, muted text
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// palette holds the styles for terminal output. The zero palette renders
// plain text.
type palette struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Mine    lipgloss.Style
}

func newPalette(colored bool) palette {
	if !colored {
		return palette{}
	}
	return palette{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTeal),
		Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Error:   lipgloss.NewStyle().Foreground(ColorError),
		Mine:    lipgloss.NewStyle().Bold(true).Foreground(ColorWarning),
	}
}

// colorEnabled reports whether w is a terminal and color was not disabled.
func colorEnabled(w io.Writer) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// REPORTS
// =============================================================================

// writeReport prints a file's issues, one per line, with the blamed author
// and a marker on issues that are mine.
func writeReport(w io.Writer, p palette, snap issues.Snapshot, me *regexp.Regexp) {
	fmt.Fprintln(w, p.Title.Render(snap.Path))
	if len(snap.Issues) == 0 {
		fmt.Fprintln(w, "  "+p.Success.Render("no issues"))
		return
	}
	for _, is := range snap.Issues {
		marker := "  "
		if snap.IsMine(is, me) {
			marker = p.Mine.Render("*") + " "
		}
		line := marker + is.String()
		if author, ok := snap.Blame.Author(is.Line); ok && author != "" {
			line += "  " + p.Muted.Render("("+author+")")
		}
		fmt.Fprintln(w, line)
	}
}

// writeFailures prints analyzers that contributed nothing.
func writeFailures(w io.Writer, p palette, failures []aggregate.Failure) {
	for _, f := range failures {
		fmt.Fprintln(w, "  "+p.Error.Render(fmt.Sprintf("%s failed: %v", f.Analyzer, f.Err)))
	}
}

// =============================================================================
// TERMINAL SINK
// =============================================================================

// terminalSink prints each applied run as a report followed by the status
// line. It never blocks on anything but w.
type terminalSink struct {
	w     io.Writer
	p     palette
	store *issues.Store
	me    *regexp.Regexp
	now   func() time.Time

	mu sync.Mutex
}

var _ scheduler.Sink = (*terminalSink)(nil)

func newTerminalSink(w io.Writer, p palette, store *issues.Store, me *regexp.Regexp) *terminalSink {
	return &terminalSink{w: w, p: p, store: store, me: me, now: time.Now}
}

// Paint implements scheduler.Sink. The report printed by SetStatus
// already marks mine and others.
func (s *terminalSink) Paint(mine, others []issues.Region) {}

// SetStatus implements scheduler.Sink.
func (s *terminalSink) SetStatus(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintln(s.w, s.p.Muted.Render("--- "+s.now().Format("15:04:05")+" ---"))
	writeReport(s.w, s.p, s.store.Snapshot(), s.me)
	fmt.Fprintln(s.w, s.p.Warning.Render(text))
}

// ClearStatus implements scheduler.Sink.
func (s *terminalSink) ClearStatus() {}

// ClearMarkers implements scheduler.Sink.
func (s *terminalSink) ClearMarkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, s.p.Muted.Render("(results cleared)"))
}

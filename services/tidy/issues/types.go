// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package issues holds analyzer findings together with the blame map they
// were produced alongside.
//
// # Description
//
// An Issue is one finding from one analyzer. A Store owns the latest issue
// set and blame map for a single buffer and swaps both in one step, so a
// reader never sees issues from one run paired with blame from another.
//
// # Thread Safety
//
// Store is safe for concurrent use. Issue values are immutable once stored;
// only Region is filled in afterwards, through Store.AssignRegions, which
// copies rather than mutates.
package issues

import (
	"fmt"
	"strconv"
)

// Region is a half-open span [Begin, End) of buffer coordinates, in
// whatever units the editor uses.
type Region struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Overlaps reports whether r and other share any coordinate.
func (r Region) Overlaps(other Region) bool {
	return r.Begin < other.End && other.Begin < r.End
}

// Issue is a single finding reported by an analyzer.
type Issue struct {
	// Line is the 1-based source line.
	Line int `json:"line"`

	// Column is the 1-based column, or nil when the analyzer gives none.
	Column *int `json:"column,omitempty"`

	// Code is the analyzer's rule or severity code. May be empty.
	Code string `json:"code,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Reporter is the name of the analyzer that produced the issue.
	Reporter string `json:"reporter"`

	// Region is the buffer span for Line, nil until assigned.
	Region *Region `json:"region,omitempty"`
}

// Col returns a pointer to c, for building issues with a column.
func Col(c int) *int {
	return &c
}

// String formats the issue as "line:col [reporter] code message".
func (i Issue) String() string {
	pos := strconv.Itoa(i.Line)
	if i.Column != nil {
		pos += ":" + strconv.Itoa(*i.Column)
	}
	if i.Code != "" {
		return fmt.Sprintf("%s [%s] %s %s", pos, i.Reporter, i.Code, i.Message)
	}
	return fmt.Sprintf("%s [%s] %s", pos, i.Reporter, i.Message)
}

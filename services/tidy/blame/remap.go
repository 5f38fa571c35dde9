// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blame

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Remap projects a blame map computed for diskText onto the line numbers of
// liveText.
//
// Description:
//
//	Lines common to both texts keep their disk author. Lines only present
//	in liveText are attributed to NotCommitted, which is what git itself
//	reports once they are saved. An empty map stays empty so that
//	"blame unavailable" survives the projection.
//
// Inputs:
//
//	m - Blame map for diskText
//	diskText - The file as blamed
//	liveText - The unsaved buffer content
//
// Outputs:
//
//	Map - One entry per line of liveText
func Remap(m Map, diskText, liveText string) Map {
	if len(m) == 0 || diskText == liveText {
		return m
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(diskText, liveText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	out := make(Map, 0, countLines(liveText))
	disk := 0
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for i := 0; i < n; i++ {
				author := ""
				if disk < len(m) {
					author = m[disk]
				}
				out = append(out, author)
				disk++
			}
		case diffmatchpatch.DiffDelete:
			disk += n
		case diffmatchpatch.DiffInsert:
			for i := 0; i < n; i++ {
				out = append(out, NotCommitted)
			}
		}
	}
	return out
}

// countLines counts lines the way blame does: a trailing fragment without a
// newline is a line, an empty text has none.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

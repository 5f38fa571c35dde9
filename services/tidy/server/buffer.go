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
	"os"
	"sync"

	"github.com/AleutianAI/tidy/services/tidy/issues"
	"github.com/AleutianAI/tidy/services/tidy/scheduler"
)

// RemoteBuffer mirrors an editor buffer from the events it reports.
//
// Thread Safety: Safe for concurrent use.
type RemoteBuffer struct {
	mu       sync.RWMutex
	path     string
	modified bool
	text     []byte
	regions  []issues.Region
}

var _ scheduler.Buffer = (*RemoteBuffer)(nil)

// NewRemoteBuffer creates a buffer showing path with the content on disk.
func NewRemoteBuffer(path string) *RemoteBuffer {
	b := &RemoteBuffer{}
	b.Update(path, nil, false)
	return b
}

// Update records the buffer's file, content and modified flag. A nil text
// loads the file from disk; an unreadable file leaves the buffer empty.
//
// Outputs:
//
//	bool - True if the buffer now shows a different file.
func (b *RemoteBuffer) Update(path string, text []byte, modified bool) bool {
	if text == nil && path != "" {
		text, _ = os.ReadFile(path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switched := b.path != path
	b.path = path
	b.modified = modified
	b.text = append([]byte(nil), text...)
	b.regions = scheduler.LineRegions(b.text)
	return switched
}

// FileName implements scheduler.Buffer.
func (b *RemoteBuffer) FileName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

// IsModified implements scheduler.Buffer.
func (b *RemoteBuffer) IsModified() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.modified
}

// Text implements scheduler.Buffer.
func (b *RemoteBuffer) Text() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.text...)
}

// LineRegion implements scheduler.Buffer.
func (b *RemoteBuffer) LineRegion(line int) (issues.Region, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if line < 1 || line > len(b.regions) {
		return issues.Region{}, false
	}
	return b.regions[line-1], true
}

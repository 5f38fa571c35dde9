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
	"bytes"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/tidy/services/tidy/issues"
)

// LineRegions splits text into one byte-offset region per line. The region
// excludes the line terminator. A trailing fragment without a newline is a
// line; empty text has none.
func LineRegions(text []byte) []issues.Region {
	regions := make([]issues.Region, 0, bytes.Count(text, []byte{'\n'})+1)
	begin := 0
	for begin < len(text) {
		end := bytes.IndexByte(text[begin:], '\n')
		if end < 0 {
			regions = append(regions, issues.Region{Begin: begin, End: len(text)})
			break
		}
		regions = append(regions, issues.Region{Begin: begin, End: begin + end})
		begin += end + 1
	}
	return regions
}

// FileBuffer is a Buffer backed by a file on disk. It is never modified:
// the content is whatever was last saved.
//
// Thread Safety: Safe for concurrent use.
type FileBuffer struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	text    []byte
	regions []issues.Region
}

// NewFileBuffer creates a buffer for path. The file is read lazily.
func NewFileBuffer(path string) *FileBuffer {
	return &FileBuffer{path: path}
}

// FileName implements Buffer.
func (b *FileBuffer) FileName() string {
	return b.path
}

// IsModified implements Buffer.
func (b *FileBuffer) IsModified() bool {
	return false
}

// Text implements Buffer. A file that cannot be read has no text.
func (b *FileBuffer) Text() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return append([]byte(nil), b.text...)
}

// LineRegion implements Buffer.
func (b *FileBuffer) LineRegion(line int) (issues.Region, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	if line < 1 || line > len(b.regions) {
		return issues.Region{}, false
	}
	return b.regions[line-1], true
}

// refreshLocked rereads the file when its size or mtime changed.
func (b *FileBuffer) refreshLocked() {
	info, err := os.Stat(b.path)
	if err != nil {
		b.text, b.regions = nil, nil
		b.modTime, b.size = time.Time{}, 0
		return
	}
	if b.text != nil && info.ModTime().Equal(b.modTime) && info.Size() == b.size {
		return
	}
	text, err := os.ReadFile(b.path)
	if err != nil {
		b.text, b.regions = nil, nil
		return
	}
	b.text = text
	b.regions = LineRegions(text)
	b.modTime, b.size = info.ModTime(), info.Size()
}

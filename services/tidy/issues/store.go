// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package issues

import (
	"errors"
	"regexp"
	"sort"
	"sync"

	"github.com/AleutianAI/tidy/services/tidy/blame"
)

var (
	// ErrStaleGeneration is returned by AssignRegions when the store has
	// moved on to a newer generation.
	ErrStaleGeneration = errors.New("store holds a different generation")

	// ErrRegionsAssigned is returned by AssignRegions on a second call for
	// the same generation.
	ErrRegionsAssigned = errors.New("regions already assigned for generation")
)

// Snapshot is an immutable view of one installed run.
type Snapshot struct {
	Generation uint64
	Path       string
	Issues     []Issue
	Blame      blame.Map

	regionsAssigned bool
}

// IsMine reports whether issue belongs to the user matched by me.
//
// Description:
//
//	An issue is mine when the blamed author of its line matches me, when
//	the line is NotCommitted, or when the line has no attribution at all
//	(including when blame is unavailable). me should be compiled
//	case-insensitive; a nil me matches no author.
func (s Snapshot) IsMine(issue Issue, me *regexp.Regexp) bool {
	author, ok := s.Blame.Author(issue.Line)
	if !ok || author == blame.NotCommitted {
		return true
	}
	return me != nil && me.MatchString(author)
}

// Partition splits the snapshot's issues into mine and others, preserving
// order.
func (s Snapshot) Partition(me *regexp.Regexp) (mine, others []Issue) {
	for _, is := range s.Issues {
		if s.IsMine(is, me) {
			mine = append(mine, is)
		} else {
			others = append(others, is)
		}
	}
	return mine, others
}

// IssuesAtLine filters the snapshot's issues to a 1-based line.
func (s Snapshot) IssuesAtLine(line int) []Issue {
	var out []Issue
	for _, is := range s.Issues {
		if is.Line == line {
			out = append(out, is)
		}
	}
	return out
}

// IssuesAtRegion filters the snapshot's issues to those whose region equals
// or overlaps r. Issues without a region never match.
func (s Snapshot) IssuesAtRegion(r Region) []Issue {
	var out []Issue
	for _, is := range s.Issues {
		if is.Region != nil && (*is.Region == r || r.Overlaps(*is.Region)) {
			out = append(out, is)
		}
	}
	return out
}

// Describe formats the issues at line as "[reporter] message".
func (s Snapshot) Describe(line int) []string {
	found := s.IssuesAtLine(line)
	out := make([]string, 0, len(found))
	for _, is := range found {
		out = append(out, "["+is.Reporter+"] "+is.Message)
	}
	return out
}

// Store holds the latest issue set and blame map for one buffer.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Replace installs a run's issues and blame map in one step.
//
// Description:
//
//	The slices are owned by the store after the call. Readers holding an
//	earlier Snapshot keep seeing the previous pair.
//
// Inputs:
//
//	gen - Run generation that produced the data
//	path - File identity the run analyzed
//	issues - Ordered issue set
//	m - Blame map for path
func (s *Store) Replace(gen uint64, path string, issues []Issue, m blame.Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{
		Generation: gen,
		Path:       path,
		Issues:     issues,
		Blame:      m,
	}
}

// Clear drops the installed data.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
}

// Snapshot returns the current consistent view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// IssuesAtLine returns the issues reported for a 1-based line in insertion
// order.
func (s *Store) IssuesAtLine(line int) []Issue {
	return s.Snapshot().IssuesAtLine(line)
}

// IssuesAtRegion returns the issues whose assigned region equals or
// overlaps r, in insertion order.
func (s *Store) IssuesAtRegion(r Region) []Issue {
	return s.Snapshot().IssuesAtRegion(r)
}

// IsMine classifies issue against the current blame map.
func (s *Store) IsMine(issue Issue, me *regexp.Regexp) bool {
	return s.Snapshot().IsMine(issue, me)
}

// AssignRegions maps every issue line to a buffer region.
//
// Description:
//
//	locate returns false for lines the buffer no longer has (it shrank
//	after the run started); those issues keep a nil region and are
//	counted as skipped. Regions are set at most once per generation and
//	the assignment is published as a new snapshot, so concurrent readers
//	never see a partially assigned set.
//
// Inputs:
//
//	gen - Generation the caller believes is installed
//	locate - Line to region lookup
//
// Outputs:
//
//	assigned - Issues that received a region
//	skipped - Issues whose line is out of range
//	error - ErrStaleGeneration or ErrRegionsAssigned
func (s *Store) AssignRegions(gen uint64, locate func(line int) (Region, bool)) (assigned, skipped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Generation != gen {
		return 0, 0, ErrStaleGeneration
	}
	if s.snap.regionsAssigned {
		return 0, 0, ErrRegionsAssigned
	}

	located := make([]Issue, len(s.snap.Issues))
	for i, is := range s.snap.Issues {
		if r, ok := locate(is.Line); ok {
			is.Region = &r
			assigned++
		} else {
			is.Region = nil
			skipped++
		}
		located[i] = is
	}

	next := s.snap
	next.Issues = located
	next.regionsAssigned = true
	s.snap = next
	return assigned, skipped, nil
}

// Describe returns one "[reporter] message" line per issue at line.
func (s *Store) Describe(line int) []string {
	return s.Snapshot().Describe(line)
}

// NextLine returns the first issue line after the given one, wrapping to
// the first issue line of the file. ok is false when there are no issues.
func (s *Store) NextLine(after int) (line int, ok bool) {
	snap := s.Snapshot()
	if len(snap.Issues) == 0 {
		return 0, false
	}
	lines := make([]int, 0, len(snap.Issues))
	for _, is := range snap.Issues {
		lines = append(lines, is.Line)
	}
	sort.Ints(lines)
	idx := sort.SearchInts(lines, after+1)
	if idx == len(lines) {
		return lines[0], true
	}
	return lines[idx], true
}

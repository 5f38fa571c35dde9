// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/tidy/services/tidy/issues"
)

// =============================================================================
// BUILT-IN PATTERNS
// =============================================================================

// Output patterns for the built-in analyzers. Each uses the named groups
// line, col, code and message; only line and message are required.
const (
	// StyleCheckerPattern matches pep8 output:
	//	a.py:3:80: E501 line too long (92 > 79 characters)
	StyleCheckerPattern = `(?m)\w+:(?P<line>\d+):(?P<col>\d+):\s(?P<code>\w+)\s(?P<message>.+)$`

	// DeepLinterPattern matches pylint --output-format=text output:
	//	W: 10, 0: Unused import os (unused-import)
	DeepLinterPattern = `(?m)^(?P<code>\w):\s+(?P<line>\d+),\s*(?P<col>\d+):\s(?P<message>.+)$`

	// UnusedSymbolCheckerPattern matches pyflakes output, with or without
	// the column newer releases print:
	//	a.py:1: 'os' imported but unused
	//	a.py:1:1: 'os' imported but unused
	UnusedSymbolCheckerPattern = `(?m)\w+:(?P<line>\d+):(?:(?P<col>\d+):)?\s(?P<message>.+)$`

	// ScriptLinterPattern matches jshint output:
	//	a.js: line 1, col 9, Missing semicolon.
	ScriptLinterPattern = `(?m)\w+: line (?P<line>\d+), col (?P<col>\d+),\s(?P<message>.+)$`
)

// =============================================================================
// PATTERN PARSER
// =============================================================================

// PatternParser extracts issues from analyzer output with a regular
// expression.
//
// Thread Safety: Safe for concurrent use.
type PatternParser struct {
	re      *regexp.Regexp
	line    int
	col     int
	code    int
	message int
}

// NewPatternParser compiles pattern and locates its groups.
//
// Description:
//
//	The pattern must define the named groups "line" and "message". The
//	groups "col" and "code" are optional. Without (?m) the pattern only
//	sees the whole output as one line, so built-in patterns set it.
//
// Inputs:
//
//	pattern - Regular expression source
//
// Outputs:
//
//	*PatternParser - The compiled parser
//	error - ErrInvalidAnalyzer if the pattern is unusable
func NewPatternParser(pattern string) (*PatternParser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern: %v", ErrInvalidAnalyzer, err)
	}
	p := &PatternParser{
		re:      re,
		line:    re.SubexpIndex("line"),
		col:     re.SubexpIndex("col"),
		code:    re.SubexpIndex("code"),
		message: re.SubexpIndex("message"),
	}
	if p.line < 0 || p.message < 0 {
		return nil, fmt.Errorf("%w: pattern must name groups 'line' and 'message'", ErrInvalidAnalyzer)
	}
	return p, nil
}

// MustPatternParser is NewPatternParser for patterns known to be valid.
func MustPatternParser(pattern string) *PatternParser {
	p, err := NewPatternParser(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse returns the issues found in output, attributed to reporter.
//
// Description:
//
//	Matches are returned in output order. A match whose line is not a
//	positive integer is dropped. An empty or unmatched column becomes nil.
//
// Inputs:
//
//	output - Combined analyzer output
//	reporter - Analyzer name stored in each issue
//
// Outputs:
//
//	[]issues.Issue - Parsed issues; empty for clean output
func (p *PatternParser) Parse(output []byte, reporter string) []issues.Issue {
	matches := p.re.FindAllSubmatch(output, -1)
	found := make([]issues.Issue, 0, len(matches))
	for _, m := range matches {
		line, err := strconv.Atoi(string(m[p.line]))
		if err != nil || line < 1 {
			continue
		}
		is := issues.Issue{
			Line:     line,
			Message:  strings.TrimSpace(string(m[p.message])),
			Reporter: reporter,
		}
		if is.Message == "" {
			continue
		}
		if p.col >= 0 && len(m[p.col]) > 0 {
			if col, err := strconv.Atoi(string(m[p.col])); err == nil {
				is.Column = issues.Col(col)
			}
		}
		if p.code >= 0 {
			is.Code = string(m[p.code])
		}
		found = append(found, is)
	}
	return found
}

// String returns the pattern source.
func (p *PatternParser) String() string {
	return p.re.String()
}

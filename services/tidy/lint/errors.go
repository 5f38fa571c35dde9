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
	"errors"
	"fmt"
)

// Sentinel errors for the lint package.
var (
	// ErrAnalyzerUnavailable indicates the analyzer binary was not found.
	ErrAnalyzerUnavailable = errors.New("analyzer not installed")

	// ErrAnalyzerTimeout indicates the analyzer exceeded its time budget.
	ErrAnalyzerTimeout = errors.New("analyzer timeout")

	// ErrAnalyzerFailed indicates the analyzer exited abnormally without
	// producing output, or was cancelled.
	ErrAnalyzerFailed = errors.New("analyzer execution failed")

	// ErrUnknownAnalyzer indicates no analyzer is registered under a name.
	ErrUnknownAnalyzer = errors.New("unknown analyzer")

	// ErrInvalidAnalyzer indicates an analyzer definition is incomplete or
	// its pattern does not compile.
	ErrInvalidAnalyzer = errors.New("invalid analyzer")
)

// AdapterError wraps a recoverable failure of one analyzer invocation.
//
// Thread Safety: Immutable after creation.
type AdapterError struct {
	// Analyzer is the registered analyzer name.
	Analyzer string

	// Path is the file the analyzer was run against.
	Path string

	// Err is one of the package sentinels.
	Err error

	// Cause is the underlying process or context error, if any.
	Cause error

	// Output holds whatever the process printed, for diagnostics.
	Output string
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("%s (%s): %v", e.Analyzer, e.Path, e.Err)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Unwrap returns the sentinel for errors.Is support.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// newAdapterError creates an AdapterError for one invocation.
func newAdapterError(analyzer, path string, sentinel, cause error) *AdapterError {
	return &AdapterError{
		Analyzer: analyzer,
		Path:     path,
		Err:      sentinel,
		Cause:    cause,
	}
}

// withOutput returns a copy of the error carrying process output.
func (e *AdapterError) withOutput(output string) *AdapterError {
	cp := *e
	cp.Output = output
	return &cp
}

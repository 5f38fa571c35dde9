// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lint runs external analyzers against a single file and parses
// their text output into issues.
//
// Each analyzer is an external command plus a regular expression that picks
// (line, column, code, message) out of its combined stdout and stderr.
// Output lines the expression does not match are ignored, so banners,
// scores and summaries never turn into issues.
//
// # Built-in Analyzers
//
// Registered in this order, which is also the order their issues are
// merged in:
//
//	| Name                  | Command  | Extensions | Output shape                        |
//	|-----------------------|----------|------------|-------------------------------------|
//	| style-checker         | pep8     | .py        | file:line:col: CODE message         |
//	| deep-linter           | pylint   | .py        | S: line, col: message               |
//	| unused-symbol-checker | pyflakes | .py        | file:line: message                  |
//	| script-linter         | jshint   | .js        | file: line N, col N, message        |
//
// Further analyzers are added with Registry.Register, usually from the
// analyzers section of the config file.
//
// # Failure Policy
//
// An analyzer never fails a check. A missing binary, a crash with no
// output, or a timeout yields no issues and an *AdapterError that callers
// log. A non-zero exit status with output is normal: most tools exit
// non-zero when they report findings.
//
// # Usage
//
//	reg := lint.DefaultRegistry()
//	inv := lint.NewInvoker(reg)
//
//	for _, name := range reg.Select("a.py") {
//	    found, err := inv.Invoke(ctx, name, "a.py")
//	    ...
//	}
//
// # Thread Safety
//
// Registry and Invoker are safe for concurrent use.
package lint

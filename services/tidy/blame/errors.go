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

import "errors"

var (
	// ErrBlameUnavailable indicates the blame command could not produce
	// output for the file (untracked, outside a repository, tool missing).
	ErrBlameUnavailable = errors.New("blame unavailable")

	// ErrNotRepository indicates no git directory was found above a path.
	ErrNotRepository = errors.New("not a git repository")
)

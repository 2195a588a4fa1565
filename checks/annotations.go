/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checks

import (
	"path/filepath"
	"strings"
)

// RelativePath resolves a violation file path to a repository-relative path
// with forward-slash separators. Paths already relative are used as-is.
// Absolute paths are made relative by locating the workspace directory's
// final path element as a segment; an absolute path that does not pass
// through the workspace cannot be resolved and reports ok=false.
func RelativePath(file, workspaceDir string) (string, bool) {
	file = filepath.ToSlash(file)
	if file == "" {
		return "", false
	}
	if !strings.HasPrefix(file, "/") {
		return strings.TrimPrefix(file, "./"), true
	}
	if workspaceDir == "" {
		return "", false
	}

	marker := "/" + filepath.Base(workspaceDir) + "/"
	idx := strings.Index(file, marker)
	if idx < 0 {
		return "", false
	}
	rel := file[idx+len(marker):]
	if rel == "" {
		return "", false
	}
	return rel, true
}

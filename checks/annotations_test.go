/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checks

import "testing"

func TestRelativePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		file         string
		workspaceDir string
		want         string
		wantOK       bool
	}{{
		name:         "already relative",
		file:         "pkg/server/main.go",
		workspaceDir: "/tmp/ws/widgets-abc12345-1-deadbeef",
		want:         "pkg/server/main.go",
		wantOK:       true,
	}, {
		name:         "relative with dot prefix",
		file:         "./pkg/server/main.go",
		workspaceDir: "/tmp/ws/widgets-abc12345-1-deadbeef",
		want:         "pkg/server/main.go",
		wantOK:       true,
	}, {
		name:         "absolute inside workspace",
		file:         "/tmp/ws/widgets-abc12345-1-deadbeef/pkg/server/main.go",
		workspaceDir: "/tmp/ws/widgets-abc12345-1-deadbeef",
		want:         "pkg/server/main.go",
		wantOK:       true,
	}, {
		name:         "absolute outside workspace",
		file:         "/etc/passwd",
		workspaceDir: "/tmp/ws/widgets-abc12345-1-deadbeef",
		wantOK:       false,
	}, {
		name:         "absolute with no workspace",
		file:         "/tmp/ws/widgets-abc12345-1-deadbeef/main.go",
		workspaceDir: "",
		wantOK:       false,
	}, {
		name:         "workspace dir itself",
		file:         "/tmp/ws/widgets-abc12345-1-deadbeef/",
		workspaceDir: "/tmp/ws/widgets-abc12345-1-deadbeef",
		wantOK:       false,
	}, {
		name:   "empty",
		file:   "",
		wantOK: false,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RelativePath(tt.file, tt.workspaceDir)
			if ok != tt.wantOK {
				t.Fatalf("RelativePath(%q, %q) ok = %v, want %v", tt.file, tt.workspaceDir, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("RelativePath(%q, %q) = %q, want %q", tt.file, tt.workspaceDir, got, tt.want)
			}
		})
	}
}

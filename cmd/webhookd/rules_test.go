/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRules(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules.json")
	content := `[
		{"name": "License Header", "instructions": "Check SPDX headers."},
		{"name": "Layer Boundaries", "detailsURL": "https://example.com/layers", "instructions": "Check imports."}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := loadRules(path)
	if err != nil {
		t.Fatalf("loadRules: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d rules, want 2", len(got))
	}
	if got[0].Name != "License Header" || got[1].DetailsURL != "https://example.com/layers" {
		t.Errorf("rules = %+v", got)
	}
}

func TestLoadRulesEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadRules(path); err == nil {
		t.Error("expected error for empty rules file")
	}
}

func TestLoadRulesMissing(t *testing.T) {
	t.Parallel()
	if _, err := loadRules(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing rules file")
	}
}

func TestBuiltinRulesAreValid(t *testing.T) {
	t.Parallel()
	for _, r := range builtinRules() {
		if r.Name == "" || r.Instructions == "" {
			t.Errorf("builtin rule missing name or instructions: %+v", r)
		}
	}
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"chainguard.dev/checkaf/rules"
)

// builtinRules is the default registry contents, used when RULES_PATH is not
// set.
func builtinRules() []rules.Descriptor {
	return []rules.Descriptor{{
		Name: "Architecture Validation",
		Instructions: "Review the changes for violations of the repository's " +
			"documented architecture and layering rules.",
	}}
}

// loadRules reads rule descriptors from a JSON file, one object per rule with
// name, detailsURL, and instructions fields.
func loadRules(path string) ([]rules.Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var descriptors []rules.Descriptor
	if err := json.Unmarshal(raw, &descriptors); err != nil {
		return nil, fmt.Errorf("parsing rules file %q: %w", path, err)
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("rules file %q defines no rules", path)
	}
	return descriptors, nil
}

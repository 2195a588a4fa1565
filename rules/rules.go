/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rules

import (
	"context"
	"fmt"
	"strings"

	"chainguard.dev/checkaf/rules/result"
)

// Descriptor names one architectural-validation rule. The registry of
// descriptors is static: read-only after construction.
type Descriptor struct {
	// Name is the rule's display name and the check run name on GitHub.
	Name string
	// DetailsURL is linked from the check run's "Details" button.
	DetailsURL string
	// Instructions is the rule-specific portion of the agent prompt.
	Instructions string
}

// Registry is an ordered, read-only set of rule descriptors.
type Registry struct {
	rules []Descriptor
}

// NewRegistry constructs a registry from the given descriptors.
func NewRegistry(rules ...Descriptor) (*Registry, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("rule with empty name")
		}
		key := strings.ToLower(r.Name)
		if seen[key] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[key] = true
	}
	return &Registry{rules: append([]Descriptor{}, rules...)}, nil
}

// All returns every registered rule in registration order.
func (r *Registry) All() []Descriptor {
	return append([]Descriptor{}, r.rules...)
}

// Filter returns the rules matching checkName (case-insensitive). An empty
// checkName matches everything. A re-requested check run names exactly one
// rule; rules not named are skipped entirely for that delivery.
func (r *Registry) Filter(checkName string) []Descriptor {
	if checkName == "" {
		return r.All()
	}
	var out []Descriptor
	for _, d := range r.rules {
		if strings.EqualFold(d.Name, checkName) {
			out = append(out, d)
		}
	}
	return out
}

// Violation is one reported issue inside a rule's verdict.
type Violation struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Verdict is a rule's pass/fail result, produced by a Strategy and consumed
// by the check run ledger.
type Verdict struct {
	Passed      bool        `json:"passed"`
	Violations  []Violation `json:"violations"`
	Explanation string      `json:"explanation"`
}

// ParseVerdict extracts a Verdict from raw agent output. Unparseable output
// is downgraded to a failed verdict with a diagnostic explanation rather than
// surfaced as an error; the webhook caller never sees agent garbage as an
// HTTP failure.
func ParseVerdict(text string) Verdict {
	v, err := result.Extract[Verdict](text)
	if err != nil {
		return Verdict{
			Passed:      false,
			Explanation: fmt.Sprintf("The validation agent returned output that could not be parsed as a verdict: %v", err),
		}
	}
	return v
}

// Input carries everything a Strategy may need to validate one rule against
// one commit. WorkspaceDir is empty when the strategy does not use a local
// working tree.
type Input struct {
	WorkspaceDir   string
	Owner          string
	Repo           string
	CommitSHA      string
	InstallationID int64
	Diffs          string
}

// Strategy produces a rule's verdict. Implementations must downgrade agent
// invocation problems (failure to start, non-zero exit, timeout, unparseable
// output) to a failed Verdict with a diagnostic explanation; a non-nil error
// is reserved for programmer mistakes such as missing input.
type Strategy interface {
	// Validate runs the rule and returns its verdict.
	Validate(ctx context.Context, rule Descriptor, in Input) (Verdict, error)
	// NeedsWorkspace reports whether Validate requires a locally cloned
	// repository in Input.WorkspaceDir.
	NeedsWorkspace() bool
}

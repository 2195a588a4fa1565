/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package rules defines the architectural-validation rule registry and the
// Strategy interface through which rule verdicts are obtained.
//
// A Descriptor names one rule and carries the instructions handed to the
// coding agent; the set of descriptors is fixed at startup. A Strategy is the
// opaque collaborator that actually produces a Verdict for a rule - either by
// spawning a local coding-agent process against a cloned working tree
// (cliagent) or by calling a hosted chat-completion API with file content
// fetched over the GitHub API (apiagent). Strategies report whether they need
// a local workspace via NeedsWorkspace, so the orchestration engine knows
// whether to clone at all.
//
// Malformed or non-JSON agent output is never a hard error: ParseVerdict
// downgrades it to a failed Verdict carrying a diagnostic explanation.
package rules

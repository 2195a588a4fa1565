/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package checks manages the GitHub check-run lifecycle for validation rules.
//
// Each rule execution maps to a single check run that moves through three
// states: queued at webhook receipt (before the HTTP response goes out),
// in_progress when validation actually starts, and completed with a success
// or failure conclusion once a verdict is in. Rule violations surface both in
// the check summary markdown and as file/line annotations when the violation
// paths can be resolved against the repository root.
package checks

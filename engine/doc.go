/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package engine orchestrates validation of a commit in two phases.
//
// Phase 1 runs synchronously on the webhook request path: it verifies an
// installation token can be minted, then creates a queued check run for every
// applicable rule so developers see pending checks the moment GitHub receives
// its 202. Phase 2 runs on the work queue, detached from the request: it
// acquires a workspace when the validation strategy needs one, then drives
// each rule through in_progress to completed. Each rule runs inside its own
// error boundary so one misbehaving rule cannot silence its siblings.
package engine

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package workqueue provides a bounded in-process dispatcher for webhook
// validation work.
//
// Deliveries are acknowledged with HTTP 202 before validation runs, so the
// work between acknowledgment and completion lives here: a fixed-capacity
// queue drained by a worker pool. Saturation rejects new work rather than
// buffering without bound, which pushes backpressure to GitHub's webhook
// redelivery. Drain stops intake and waits for in-flight tasks so shutdown
// never strands a check run in progress.
package workqueue

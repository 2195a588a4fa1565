/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package workspace acquires repository checkouts for validation and
// reclaims the disk they occupy.
//
// The Acquirer clones a repository at a specific commit into a uniquely named
// directory under a configured base, retrying transient clone failures and
// falling back to an unauthenticated clone on the final attempt for public
// repositories whose token exchange is flaky. The Sweeper runs alongside it,
// deleting checkouts past the retention window and, when free disk falls
// below a floor, everything it can.
package workspace

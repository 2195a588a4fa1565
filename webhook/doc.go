/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package webhook receives GitHub App webhook deliveries, authenticates
// them, and routes them to the orchestration engine.
//
// A delivery is authenticated against the webhook secret (HMAC-SHA256 over
// the raw body), its installation ID extracted, and its event type matched
// to a handler. Push and pull-request events validate the new head commit;
// re-requested check runs and check suites re-validate a commit already
// seen. Events the service does not act on are acknowledged with 200 so
// GitHub does not mark the endpoint unhealthy.
package webhook

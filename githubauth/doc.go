/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubauth issues and caches GitHub App installation tokens.
//
// The app authenticates to the GitHub Apps API with a short-lived (under ten
// minutes) RS256 assertion signed by its private key; ghinstallation's
// AppsTransport owns that signing. Exchanged installation tokens are cached
// per installation and reused until they come within five minutes of expiry,
// at which point the next caller refreshes them. Each installation refreshes
// under its own lock, so a slow exchange for one installation never blocks
// token reads for another.
//
// The cache is the single authentication seam for the rest of the service:
// it hands out raw tokens, authenticated go-github clients, and
// oauth2.TokenSource adapters for git clone auth.
package githubauth

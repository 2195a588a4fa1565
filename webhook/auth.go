/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

var (
	// ErrMissingSignature means a secret is configured but the delivery
	// carried no signature header. Maps to HTTP 400.
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidSignature means the signature did not verify against the
	// configured secret. Maps to HTTP 401.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Authenticator verifies webhook delivery signatures.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator constructs an Authenticator. An empty secret disables
// verification, for local development against forwarded webhooks.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate checks the X-Hub-Signature-256 header value against the raw
// request body. Verification is constant-time via the go-github helper.
func (a *Authenticator) Authenticate(ctx context.Context, body []byte, signature string) error {
	if len(a.secret) == 0 {
		clog.FromContext(ctx).Debug("No webhook secret configured, skipping signature verification")
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}
	if err := github.ValidateSignature(signature, body, a.secret); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

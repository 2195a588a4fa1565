/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/chainguard-dev/clog"
)

// ErrMissingInstallation means neither the payload nor the target-ID header
// identified the installation. Maps to HTTP 400.
var ErrMissingInstallation = errors.New("delivery has no installation ID")

// Delivery is one inbound webhook request, decoded once and passed through
// the router.
type Delivery struct {
	EventType      string
	DeliveryID     string
	Body           []byte
	InstallationID int64
}

// ExtractInstallationID pulls the installation ID from the payload, falling
// back to the X-GitHub-Hook-Installation-Target-ID header value. The payload
// wins on disagreement; a mismatch is logged but not rejected, since GitHub
// populates the header from hook configuration rather than the event itself.
func ExtractInstallationID(ctx context.Context, body []byte, headerID int64) (int64, error) {
	var envelope struct {
		Installation struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	// Decode errors are ignored: a payload without the installation object
	// is handled by the header fallback.
	_ = json.Unmarshal(body, &envelope)

	payloadID := envelope.Installation.ID
	if payloadID != 0 {
		if headerID != 0 && headerID != payloadID {
			clog.FromContext(ctx).With("payload_id", payloadID).
				With("header_id", headerID).
				Warn("Installation ID mismatch between payload and header")
		}
		return payloadID, nil
	}
	if headerID != 0 {
		return headerID, nil
	}
	return 0, ErrMissingInstallation
}

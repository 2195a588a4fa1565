/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GitHub caps webhook payloads at 25 MB.
const maxBodyBytes = 25 << 20

var mDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkaf_webhook_deliveries_total",
	Help: "Webhook deliveries by event type and outcome.",
}, []string{"event", "outcome"})

// Handler is the HTTP entry point for POST /github/webhook.
type Handler struct {
	auth   *Authenticator
	router *Router
}

// NewHandler constructs the webhook HTTP handler.
func NewHandler(auth *Authenticator, router *Router) *Handler {
	return &Handler{auth: auth, router: router}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	log := clog.FromContext(ctx).With("event", eventType).
		With("delivery", deliveryID)
	ctx = clog.WithLogger(ctx, log)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.With("error", err).Warn("Could not read delivery body")
		mDeliveries.WithLabelValues(eventType, "read_error").Inc()
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	if err := h.auth.Authenticate(ctx, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, ErrMissingSignature) {
			status = http.StatusBadRequest
		}
		log.With("error", err).Warn("Rejected delivery")
		mDeliveries.WithLabelValues(eventType, "unauthenticated").Inc()
		http.Error(w, "signature verification failed", status)
		return
	}

	var headerID int64
	if raw := r.Header.Get("X-GitHub-Hook-Installation-Target-ID"); raw != "" {
		headerID, _ = strconv.ParseInt(raw, 10, 64)
	}
	// Absence is tolerated here: events the router merely acknowledges
	// (ping, unhandled types) need no installation, and handlers that mint
	// tokens reject a zero ID themselves.
	installationID, err := ExtractInstallationID(ctx, body, headerID)
	if err != nil {
		log.With("error", err).Debug("Delivery carries no installation ID")
	}

	resp := h.router.Route(ctx, Delivery{
		EventType:      eventType,
		DeliveryID:     deliveryID,
		Body:           body,
		InstallationID: installationID,
	})

	outcome := "processed"
	switch {
	case resp.Status >= 500:
		outcome = "failed"
	case resp.Status >= 400:
		outcome = "rejected"
	case resp.Status == http.StatusOK:
		outcome = "acknowledged"
	}
	mDeliveries.WithLabelValues(eventType, outcome).Inc()

	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}

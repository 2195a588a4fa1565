/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"

	"chainguard.dev/checkaf/engine"
)

// ErrMalformedPayload means the event body could not be decoded. Maps to
// HTTP 400.
var ErrMalformedPayload = errors.New("malformed event payload")

// Processor accepts validation requests. Implemented by engine.Engine.
type Processor interface {
	Process(ctx context.Context, req engine.Request) error
}

// Response is what the router tells the HTTP layer to send.
type Response struct {
	Status int
	Body   string
}

// EventHandler handles one webhook event type.
type EventHandler func(ctx context.Context, d Delivery) (Response, error)

// Router maps event types to handlers.
type Router struct {
	handlers map[string]EventHandler
}

// NewRouter builds a Router covering the event types the service acts on,
// all funneling into the given Processor.
func NewRouter(p Processor) *Router {
	r := &Router{handlers: make(map[string]EventHandler)}
	r.handle("ping", handlePing)
	r.handle("push", requireInstallation(handlePush(p)))
	r.handle("pull_request", requireInstallation(handlePullRequest(p)))
	r.handle("check_run", requireInstallation(handleCheckRun(p)))
	r.handle("check_suite", requireInstallation(handleCheckSuite(p)))
	return r
}

// requireInstallation guards handlers that mint installation tokens. Events
// the service merely acknowledges (ping, unhandled types) never pass through
// it, so they succeed without an installation.
func requireInstallation(h EventHandler) EventHandler {
	return func(ctx context.Context, d Delivery) (Response, error) {
		if d.InstallationID == 0 {
			return Response{}, fmt.Errorf("%w: %s event", ErrMissingInstallation, d.EventType)
		}
		return h(ctx, d)
	}
}

func (r *Router) handle(eventType string, h EventHandler) {
	r.handlers[strings.ToLower(eventType)] = h
}

// Route dispatches a delivery. Unknown event types are acknowledged rather
// than erroring so hook configuration can be broader than the service.
// Handler errors and panics both become opaque 500s.
func (r *Router) Route(ctx context.Context, d Delivery) (resp Response) {
	log := clog.FromContext(ctx).With("event", d.EventType).
		With("delivery", d.DeliveryID)

	defer func() {
		if rec := recover(); rec != nil {
			log.With("panic", rec).With("stack", string(debug.Stack())).
				Error("Recovered panic handling delivery")
			resp = Response{Status: http.StatusInternalServerError, Body: "internal error"}
		}
	}()

	d.EventType = strings.ToLower(d.EventType)
	h, ok := r.handlers[d.EventType]
	if !ok {
		log.Debug("Acknowledging unhandled event type")
		return Response{Status: http.StatusOK, Body: "acknowledged but not processed"}
	}

	resp, err := h(ctx, d)
	switch {
	case errors.Is(err, ErrMissingInstallation):
		log.With("error", err).Warn("Rejecting delivery without installation")
		return Response{Status: http.StatusBadRequest, Body: "no installation ID"}
	case errors.Is(err, ErrMalformedPayload):
		log.With("error", err).Warn("Rejecting malformed payload")
		return Response{Status: http.StatusBadRequest, Body: "malformed payload"}
	case err != nil:
		log.With("error", err).Error("Delivery handler failed")
		return Response{Status: http.StatusInternalServerError, Body: "internal error"}
	}
	return resp
}

func handlePing(context.Context, Delivery) (Response, error) {
	return Response{Status: http.StatusOK, Body: "pong"}, nil
}

// accepted is the Response for deliveries whose Phase 1 completed.
func accepted() Response {
	return Response{Status: http.StatusAccepted, Body: "validation queued"}
}

// acknowledged is the Response for deliveries carrying actions or states the
// service does not validate.
func acknowledged(ctx context.Context, why string) Response {
	clog.FromContext(ctx).With("reason", why).Debug("Acknowledging delivery without validation")
	return Response{Status: http.StatusOK, Body: "acknowledged but not processed"}
}

func parse[T any](d Delivery) (*T, error) {
	raw, err := github.ParseWebHook(d.EventType, d.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s event: %w", ErrMalformedPayload, d.EventType, err)
	}
	event, ok := raw.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload type %T for %s event", ErrMalformedPayload, raw, d.EventType)
	}
	return event, nil
}

const zeroSHA = "0000000000000000000000000000000000000000"

func handlePush(p Processor) EventHandler {
	return func(ctx context.Context, d Delivery) (Response, error) {
		event, err := parse[github.PushEvent](d)
		if err != nil {
			return Response{}, err
		}
		if event.GetDeleted() || event.GetAfter() == zeroSHA || event.GetAfter() == "" {
			return acknowledged(ctx, "branch deletion"), nil
		}
		req := engine.Request{
			Owner:          event.GetRepo().GetOwner().GetLogin(),
			Repo:           event.GetRepo().GetName(),
			HeadSHA:        event.GetAfter(),
			InstallationID: d.InstallationID,
			CloneURL:       event.GetRepo().GetCloneURL(),
			SummarySuffix:  "push to " + event.GetRef(),
		}
		if err := p.Process(ctx, req); err != nil {
			return Response{}, err
		}
		return accepted(), nil
	}
}

// prActions are the pull-request actions that change the head commit or
// (re)open the review surface.
var prActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

func handlePullRequest(p Processor) EventHandler {
	return func(ctx context.Context, d Delivery) (Response, error) {
		event, err := parse[github.PullRequestEvent](d)
		if err != nil {
			return Response{}, err
		}
		if !prActions[event.GetAction()] {
			return acknowledged(ctx, "action "+event.GetAction()), nil
		}
		req := engine.Request{
			Owner:          event.GetRepo().GetOwner().GetLogin(),
			Repo:           event.GetRepo().GetName(),
			HeadSHA:        event.GetPullRequest().GetHead().GetSHA(),
			InstallationID: d.InstallationID,
			CloneURL:       event.GetRepo().GetCloneURL(),
			SummarySuffix:  fmt.Sprintf("pull request #%d", event.GetPullRequest().GetNumber()),
		}
		if err := p.Process(ctx, req); err != nil {
			return Response{}, err
		}
		return accepted(), nil
	}
}

func handleCheckRun(p Processor) EventHandler {
	return func(ctx context.Context, d Delivery) (Response, error) {
		event, err := parse[github.CheckRunEvent](d)
		if err != nil {
			return Response{}, err
		}
		if event.GetAction() != "rerequested" {
			return acknowledged(ctx, "action "+event.GetAction()), nil
		}
		run := event.GetCheckRun()
		req := engine.Request{
			Owner:              event.GetRepo().GetOwner().GetLogin(),
			Repo:               event.GetRepo().GetName(),
			HeadSHA:            run.GetHeadSHA(),
			InstallationID:     d.InstallationID,
			CloneURL:           event.GetRepo().GetCloneURL(),
			SummarySuffix:      "re-requested",
			CheckNameFilter:    run.GetName(),
			ExistingCheckRunID: run.GetID(),
		}
		if err := p.Process(ctx, req); err != nil {
			return Response{}, err
		}
		return accepted(), nil
	}
}

func handleCheckSuite(p Processor) EventHandler {
	return func(ctx context.Context, d Delivery) (Response, error) {
		event, err := parse[github.CheckSuiteEvent](d)
		if err != nil {
			return Response{}, err
		}
		if event.GetAction() != "rerequested" {
			return acknowledged(ctx, "action "+event.GetAction()), nil
		}
		req := engine.Request{
			Owner:          event.GetRepo().GetOwner().GetLogin(),
			Repo:           event.GetRepo().GetName(),
			HeadSHA:        event.GetCheckSuite().GetHeadSHA(),
			InstallationID: d.InstallationID,
			CloneURL:       event.GetRepo().GetCloneURL(),
			SummarySuffix:  "suite re-requested",
		}
		if err := p.Process(ctx, req); err != nil {
			return Response{}, err
		}
		return accepted(), nil
	}
}

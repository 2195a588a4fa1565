/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package webhook

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func postDelivery(t *testing.T, h http.Handler, event string, body []byte, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/github/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "d-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result()
}

func TestHandlerAcceptsSignedDelivery(t *testing.T) {
	t.Parallel()
	p := &fakeProcessor{}
	h := NewHandler(NewAuthenticator("s3cret"), NewRouter(p))

	body := pushBody(headSHA)
	resp := postDelivery(t, h, "push", body, map[string]string{
		"X-Hub-Signature-256": sign("s3cret", body),
	})
	if resp.StatusCode != http.StatusAccepted {
		out, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body %q", resp.StatusCode, out)
	}
	if len(p.requests) != 1 {
		t.Errorf("requests = %+v", p.requests)
	}
}

func TestHandlerRejectsBadSignature(t *testing.T) {
	t.Parallel()
	p := &fakeProcessor{}
	h := NewHandler(NewAuthenticator("s3cret"), NewRouter(p))

	body := pushBody(headSHA)
	resp := postDelivery(t, h, "push", body, map[string]string{
		"X-Hub-Signature-256": sign("wrong", body),
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if len(p.requests) != 0 {
		t.Errorf("unauthenticated delivery reached the processor: %+v", p.requests)
	}
}

func TestHandlerRejectsMissingSignature(t *testing.T) {
	t.Parallel()
	h := NewHandler(NewAuthenticator("s3cret"), NewRouter(&fakeProcessor{}))

	resp := postDelivery(t, h, "push", pushBody(headSHA), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandlerRejectsMissingInstallation(t *testing.T) {
	t.Parallel()
	h := NewHandler(NewAuthenticator(""), NewRouter(&fakeProcessor{}))

	resp := postDelivery(t, h, "push", []byte(`{"after": "abc"}`), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandlerPingWithoutInstallation(t *testing.T) {
	t.Parallel()
	h := NewHandler(NewAuthenticator(""), NewRouter(&fakeProcessor{}))

	// GitHub's initial ping carries neither an installation object nor the
	// target-ID header; it must still succeed.
	resp := postDelivery(t, h, "ping", []byte(`{"zen": "Keep it logically awesome."}`), nil)
	if resp.StatusCode != http.StatusOK {
		out, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, body %q, want 200", resp.StatusCode, out)
	}
}

func TestHandlerUnknownEventWithoutInstallation(t *testing.T) {
	t.Parallel()
	h := NewHandler(NewAuthenticator(""), NewRouter(&fakeProcessor{}))

	resp := postDelivery(t, h, "star", []byte(`{"action": "created"}`), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandlerHeaderInstallationFallback(t *testing.T) {
	t.Parallel()
	p := &fakeProcessor{}
	h := NewHandler(NewAuthenticator(""), NewRouter(p))

	// Strip the installation object so only the header identifies it.
	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "` + headSHA + `",
		"repository": {
			"name": "widgets",
			"owner": {"login": "octo"},
			"clone_url": "https://github.com/octo/widgets.git"
		}
	}`)
	resp := postDelivery(t, h, "push", body, map[string]string{
		"X-GitHub-Hook-Installation-Target-ID": "77",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(p.requests) != 1 || p.requests[0].InstallationID != 77 {
		t.Errorf("requests = %+v", p.requests)
	}
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	t.Parallel()
	h := NewHandler(NewAuthenticator(""), NewRouter(&fakeProcessor{}))
	req := httptest.NewRequest(http.MethodGet, "/github/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

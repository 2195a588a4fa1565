/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-github/v84/github"

	"chainguard.dev/checkaf/rules"
)

// checkRunPayload mirrors the fields of check-run create/update requests the
// tests care about.
type checkRunPayload struct {
	Name       string `json:"name"`
	HeadSHA    string `json:"head_sha"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	DetailsURL string `json:"details_url"`
	Output     *struct {
		Title       string `json:"title"`
		Summary     string `json:"summary"`
		Text        string `json:"text"`
		Annotations []struct {
			Path      string `json:"path"`
			StartLine int    `json:"start_line"`
			Message   string `json:"message"`
		} `json:"annotations"`
	} `json:"output"`
}

type ghFake struct {
	mu      sync.Mutex
	creates []checkRunPayload
	updates []checkRunPayload
	nextID  int64
}

func (f *ghFake) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/octo/widgets/check-runs", func(w http.ResponseWriter, r *http.Request) {
		var p checkRunPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decoding create body: %v", err)
		}
		f.mu.Lock()
		f.creates = append(f.creates, p)
		f.nextID++
		id := f.nextID
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id": %d, "name": %q}`, id, p.Name)
	})
	mux.HandleFunc("PATCH /repos/octo/widgets/check-runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		var p checkRunPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decoding update body: %v", err)
		}
		f.mu.Lock()
		f.updates = append(f.updates, p)
		f.mu.Unlock()
		fmt.Fprintf(w, `{"id": %s, "name": %q}`, r.PathValue("id"), p.Name)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type staticClients struct {
	baseURL string
}

func (s *staticClients) Client(_ context.Context, _ int64) (*github.Client, error) {
	gh := github.NewClient(nil)
	base, err := url.Parse(s.baseURL + "/")
	if err != nil {
		return nil, err
	}
	gh.BaseURL = base
	return gh, nil
}

func testArgs() ExecutionArgs {
	return ExecutionArgs{
		Owner:          "octo",
		Repo:           "widgets",
		HeadSHA:        "a366629721a9ad383793f2b05704b1f1b7a5e2c1",
		CheckName:      "License Header",
		InstallationID: 42,
		Title:          "License Header",
		Summary:        "Queued for validation",
	}
}

func TestCreateQueued(t *testing.T) {
	t.Parallel()
	fake := &ghFake{}
	srv := fake.server(t)
	ledger := NewLedger(&staticClients{baseURL: srv.URL}, WithDetailsURL("https://checks.example.com/"))

	id, err := ledger.CreateQueued(context.Background(), testArgs())
	if err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	if id != 1 {
		t.Errorf("check run ID = %d, want 1", id)
	}
	if len(fake.creates) != 1 {
		t.Fatalf("expected 1 create, got %d", len(fake.creates))
	}
	got := fake.creates[0]
	if got.Status != "queued" {
		t.Errorf("status = %q, want queued", got.Status)
	}
	if got.HeadSHA != testArgs().HeadSHA {
		t.Errorf("head_sha = %q", got.HeadSHA)
	}
	if got.DetailsURL != "https://checks.example.com/license-header" {
		t.Errorf("details_url = %q", got.DetailsURL)
	}
}

func TestCreateQueuedPerRuleDetailsURL(t *testing.T) {
	t.Parallel()
	fake := &ghFake{}
	srv := fake.server(t)
	ledger := NewLedger(&staticClients{baseURL: srv.URL}, WithDetailsURL("https://checks.example.com/"))

	args := testArgs()
	args.DetailsURL = "https://docs.example.com/rules/license-header"
	if _, err := ledger.CreateQueued(context.Background(), args); err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	if len(fake.creates) != 1 {
		t.Fatalf("expected 1 create, got %d", len(fake.creates))
	}
	// A per-rule link wins over the derived base URL.
	if got := fake.creates[0].DetailsURL; got != args.DetailsURL {
		t.Errorf("details_url = %q, want %q", got, args.DetailsURL)
	}
}

func TestCreateQueuedReusesExistingRun(t *testing.T) {
	t.Parallel()
	fake := &ghFake{}
	srv := fake.server(t)
	ledger := NewLedger(&staticClients{baseURL: srv.URL})

	args := testArgs()
	args.ExistingCheckRunID = 77
	id, err := ledger.CreateQueued(context.Background(), args)
	if err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	if id != 77 {
		t.Errorf("check run ID = %d, want 77", id)
	}
	if len(fake.creates) != 0 {
		t.Errorf("expected no creates, got %d", len(fake.creates))
	}
	if len(fake.updates) != 1 || fake.updates[0].Status != "queued" {
		t.Fatalf("expected one queued update, got %+v", fake.updates)
	}
}

func TestBeginExecution(t *testing.T) {
	t.Parallel()
	fake := &ghFake{}
	srv := fake.server(t)
	ledger := NewLedger(&staticClients{baseURL: srv.URL})

	if err := ledger.BeginExecution(context.Background(), testArgs(), 5); err != nil {
		t.Fatalf("BeginExecution: %v", err)
	}
	if len(fake.updates) != 1 || fake.updates[0].Status != "in_progress" {
		t.Fatalf("expected one in_progress update, got %+v", fake.updates)
	}
	// Output is reset so a re-request does not show stale results.
	if got := fake.updates[0].Output; got == nil || !strings.Contains(got.Summary, "running") {
		t.Errorf("expected running output, got %+v", got)
	}
}

func TestCompleteSuccess(t *testing.T) {
	t.Parallel()
	fake := &ghFake{}
	srv := fake.server(t)
	ledger := NewLedger(&staticClients{baseURL: srv.URL})

	verdict := rules.Verdict{Passed: true, Explanation: "clean diff"}
	if err := ledger.Complete(context.Background(), testArgs(), 5, verdict, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := fake.updates[0]
	if got.Conclusion != "success" {
		t.Errorf("conclusion = %q, want success", got.Conclusion)
	}
	if got.Output.Title != "License Header Check Passed" {
		t.Errorf("title = %q", got.Output.Title)
	}
	if !strings.Contains(got.Output.Summary, "clean diff") {
		t.Errorf("summary missing explanation: %q", got.Output.Summary)
	}
}

func TestCompleteFailureWithAnnotations(t *testing.T) {
	t.Parallel()
	fake := &ghFake{}
	srv := fake.server(t)
	ledger := NewLedger(&staticClients{baseURL: srv.URL})

	ws := "/tmp/ws/widgets-abc12345-1-deadbeef"
	verdict := rules.Verdict{
		Passed: false,
		Violations: []rules.Violation{
			{File: ws + "/pkg/main.go", Line: 3, Message: "missing header"},
			{File: "/somewhere/else.go", Line: 9, Message: "unresolvable path"},
			{Message: "no file at all"},
		},
	}
	if err := ledger.Complete(context.Background(), testArgs(), 5, verdict, ws); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := fake.updates[0]
	if got.Conclusion != "failure" {
		t.Errorf("conclusion = %q, want failure", got.Conclusion)
	}
	if got.Output.Title != "License Header Check Failed" {
		t.Errorf("title = %q", got.Output.Title)
	}
	if len(got.Output.Annotations) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(got.Output.Annotations))
	}
	ann := got.Output.Annotations[0]
	if ann.Path != "pkg/main.go" || ann.StartLine != 3 {
		t.Errorf("annotation = %+v", ann)
	}
	// Resolvable paths render repository-relative in the markdown text;
	// unresolvable violations still land there with the path as reported.
	for _, want := range []string{"- `pkg/main.go:3`: missing header", "- `/somewhere/else.go:9`: unresolvable path", "no file at all"} {
		if !strings.Contains(got.Output.Text, want) {
			t.Errorf("text missing %q: %q", want, got.Output.Text)
		}
	}
	if strings.Contains(got.Output.Text, ws) {
		t.Errorf("text leaks workspace path: %q", got.Output.Text)
	}
}

func TestAnnotationCap(t *testing.T) {
	t.Parallel()
	var violations []rules.Violation
	for i := 0; i < maxAnnotations+20; i++ {
		violations = append(violations, rules.Violation{
			File:    fmt.Sprintf("pkg/file%d.go", i),
			Line:    1,
			Message: "violation",
		})
	}
	anns := buildAnnotations(violations, "")
	if len(anns) != maxAnnotations {
		t.Errorf("len(annotations) = %d, want %d", len(anns), maxAnnotations)
	}
}

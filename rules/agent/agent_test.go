/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"testing"

	"github.com/google/go-github/v84/github"
)

type fakeClients struct{}

func (fakeClients) Client(context.Context, int64) (*github.Client, error) {
	return github.NewClient(nil), nil
}

func TestNewSelectsKind(t *testing.T) {
	t.Parallel()

	cli, err := New(Config{Kind: KindCLI, Command: "claude"})
	if err != nil {
		t.Fatalf("New(cli): %v", err)
	}
	if !cli.NeedsWorkspace() {
		t.Error("cli strategy should need a workspace")
	}

	api, err := New(Config{Kind: KindAPI, APIKey: "key", Clients: fakeClients{}})
	if err != nil {
		t.Fatalf("New(api): %v", err)
	}
	if api.NeedsWorkspace() {
		t.Error("api strategy should not need a workspace")
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Kind: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agent selects the validation strategy for a configured coding-agent
// kind. Dispatch call sites depend only on rules.Strategy; adding another
// agent kind means adding a case here and nowhere else.
package agent

import (
	"fmt"
	"time"

	"chainguard.dev/checkaf/rules"
	"chainguard.dev/checkaf/rules/apiagent"
	"chainguard.dev/checkaf/rules/cliagent"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Kind identifies a coding-agent flavor.
type Kind string

const (
	// KindCLI spawns a local coding-agent process against a cloned
	// working tree.
	KindCLI Kind = "cli"
	// KindAPI calls a hosted chat-completion API with file content fetched
	// over the GitHub API.
	KindAPI Kind = "api"
)

// Config carries the settings for whichever kind is selected.
type Config struct {
	Kind Kind

	// CLI agent settings.
	Command     string
	CommandArgs []string
	Timeout     time.Duration

	// API agent settings.
	APIKey  string
	Model   string
	Clients apiagent.ClientSource
}

// New constructs the strategy for cfg.Kind.
func New(cfg Config) (rules.Strategy, error) {
	switch cfg.Kind {
	case KindCLI:
		opts := []cliagent.Option{cliagent.WithArgs(cfg.CommandArgs...)}
		if cfg.Timeout > 0 {
			opts = append(opts, cliagent.WithTimeout(cfg.Timeout))
		}
		return cliagent.New(cfg.Command, opts...)

	case KindAPI:
		client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
		var opts []apiagent.Option
		if cfg.Model != "" {
			opts = append(opts, apiagent.WithModel(cfg.Model))
		}
		return apiagent.New(client, cfg.Clients, opts...)

	default:
		return nil, fmt.Errorf("unknown agent kind %q", cfg.Kind)
	}
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package apiagent validates rules through a hosted chat-completion API
// instead of a local coding-agent process. It never touches the filesystem:
// repository content is fetched file-by-file over the GitHub API (tree
// listing plus raw blobs, subject to file-count and file-size caps) and
// embedded in the prompt. Transient API errors (429/5xx/overloaded) are
// retried with exponential backoff; everything else is downgraded to a failed
// verdict with a diagnostic explanation.
package apiagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainguard.dev/checkaf/retry"
	"chainguard.dev/checkaf/rules"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 8192

	verdictContract = `Respond with a single JSON object and nothing else:
{"passed": <bool>, "violations": [{"file": "<path>", "line": <int>, "message": "<text>"}], "explanation": "<text>"}`
)

// ClientSource yields a GitHub client authenticated for an installation.
type ClientSource interface {
	Client(ctx context.Context, installationID int64) (*github.Client, error)
}

// Agent validates rules by calling the Anthropic Messages API with file
// content fetched over the GitHub API.
type Agent struct {
	client      anthropic.Client
	clients     ClientSource
	model       string
	maxTokens   int64
	retryConfig retry.Config

	maxFiles     int
	maxFileBytes int
}

// Option configures an Agent.
type Option func(*Agent) error

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(a *Agent) error {
		if !strings.HasPrefix(model, "claude-") {
			return fmt.Errorf("model %q does not appear to be a Claude model (expected claude-* format)", model)
		}
		a.model = model
		return nil
	}
}

// WithMaxTokens sets the response token budget.
func WithMaxTokens(tokens int64) Option {
	return func(a *Agent) error {
		if tokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", tokens)
		}
		a.maxTokens = tokens
		return nil
	}
}

// WithRetryConfig sets the retry policy for transient API errors.
func WithRetryConfig(cfg retry.Config) Option {
	return func(a *Agent) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		a.retryConfig = cfg
		return nil
	}
}

// WithContentCaps bounds how much repository content is embedded per prompt.
func WithContentCaps(maxFiles, maxFileBytes int) Option {
	return func(a *Agent) error {
		if maxFiles <= 0 || maxFileBytes <= 0 {
			return fmt.Errorf("content caps must be positive, got %d files / %d bytes", maxFiles, maxFileBytes)
		}
		a.maxFiles = maxFiles
		a.maxFileBytes = maxFileBytes
		return nil
	}
}

// New constructs an Agent. The Anthropic client and the GitHub client source
// are constructor-injected; the agent holds no process-wide state.
func New(client anthropic.Client, clients ClientSource, opts ...Option) (*Agent, error) {
	if clients == nil {
		return nil, errors.New("github client source cannot be nil")
	}
	a := &Agent{
		client:       client,
		clients:      clients,
		model:        defaultModel,
		maxTokens:    defaultMaxTokens,
		retryConfig:  retry.Exponential(),
		maxFiles:     200,
		maxFileBytes: 64 * 1024,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	return a, nil
}

// NeedsWorkspace reports that this strategy does not use a local clone.
func (a *Agent) NeedsWorkspace() bool { return false }

// Validate fetches the commit's file content, runs one completion, and parses
// the verdict.
func (a *Agent) Validate(ctx context.Context, rule rules.Descriptor, in rules.Input) (rules.Verdict, error) {
	log := clog.FromContext(ctx).With("rule", rule.Name).With("model", a.model)

	files, err := a.fetchFiles(ctx, in)
	if err != nil {
		log.With("error", err).Warn("Fetching repository content failed")
		return rules.Verdict{
			Passed:      false,
			Explanation: fmt.Sprintf("Repository content could not be fetched for validation: %v.", err),
		}, nil
	}

	prompt := buildPrompt(rule, in, files)
	log.With("prompt_length", len(prompt)).With("files", len(files)).
		Info("Starting API agent validation")

	start := time.Now()
	message, err := retry.Do(ctx, a.retryConfig, "create_message", isRetryableAPIError, func(int) (*anthropic.Message, error) {
		return a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(a.model),
			MaxTokens:   a.maxTokens,
			Temperature: anthropic.Float(0.1),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
	})
	log.With("duration", time.Since(start)).Info("API agent call finished")
	if err != nil {
		return rules.Verdict{
			Passed:      false,
			Explanation: fmt.Sprintf("The validation agent API call failed: %v.", err),
		}, nil
	}

	var text string
	for _, content := range message.Content {
		if content.Type == "text" {
			text = content.Text
		}
	}
	if text == "" {
		return rules.Verdict{
			Passed:      false,
			Explanation: "The validation agent returned no text content.",
		}, nil
	}

	return rules.ParseVerdict(text), nil
}

// isRetryableAPIError reports whether an error is a transient Anthropic API
// error: rate limit, overloaded, or server-side failures.
func isRetryableAPIError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 503, 504, 529:
			return true
		}
	}
	return false
}

func buildPrompt(rule rules.Descriptor, in rules.Input, files []repoFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are validating the %q architectural rule against %s/%s at commit %s.\n\n",
		rule.Name, in.Owner, in.Repo, in.CommitSHA)
	b.WriteString(rule.Instructions)
	b.WriteString("\n\n")
	if in.Diffs != "" {
		b.WriteString("Focus on the following changes:\n\n")
		b.WriteString(in.Diffs)
		b.WriteString("\n\n")
	}
	b.WriteString("Repository content:\n\n")
	for _, f := range files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", f.path, f.content)
	}
	b.WriteString(verdictContract)
	return b.String()
}

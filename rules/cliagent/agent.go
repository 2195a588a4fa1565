/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package cliagent validates rules by spawning a local coding-agent process
// (e.g. the Claude Code CLI) against a cloned working tree. The agent reads
// the repository from its working directory and prints a JSON verdict on
// stdout. Every way the subprocess can misbehave - failure to start, non-zero
// exit, timeout, garbage output - is downgraded to a failed verdict so the
// delivery's remaining rules still run.
package cliagent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"chainguard.dev/checkaf/rules"
	"github.com/chainguard-dev/clog"
)

const defaultTimeout = 10 * time.Minute

// verdictContract is appended to every prompt so the agent knows the exact
// output shape ParseVerdict expects.
const verdictContract = `Respond with a single JSON object and nothing else:
{"passed": <bool>, "violations": [{"file": "<path>", "line": <int>, "message": "<text>"}], "explanation": "<text>"}`

// Agent shells out to a coding-agent executable for each validation.
type Agent struct {
	command string
	args    []string
	timeout time.Duration
}

// Option configures an Agent.
type Option func(*Agent) error

// WithArgs sets extra arguments placed before the prompt.
func WithArgs(args ...string) Option {
	return func(a *Agent) error {
		a.args = append([]string{}, args...)
		return nil
	}
}

// WithTimeout bounds each agent invocation. The subprocess is killed when the
// deadline passes.
func WithTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		a.timeout = d
		return nil
	}
}

// New constructs an Agent that runs the given executable.
func New(command string, opts ...Option) (*Agent, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("agent command cannot be empty")
	}
	a := &Agent{
		command: command,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	return a, nil
}

// NeedsWorkspace reports that this strategy operates on a local clone.
func (a *Agent) NeedsWorkspace() bool { return true }

// Validate spawns the agent in the workspace and parses its stdout as a
// verdict.
func (a *Agent) Validate(ctx context.Context, rule rules.Descriptor, in rules.Input) (rules.Verdict, error) {
	if in.WorkspaceDir == "" {
		return rules.Verdict{}, errors.New("cliagent requires a workspace directory")
	}

	log := clog.FromContext(ctx).With("rule", rule.Name).With("command", a.command)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := buildPrompt(rule, in)

	cmd := exec.CommandContext(ctx, a.command, append(append([]string{}, a.args...), prompt)...)
	cmd.Dir = in.WorkspaceDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log.With("duration", time.Since(start)).Info("Agent process finished")

	switch {
	case ctx.Err() != nil:
		return rules.Verdict{
			Passed:      false,
			Explanation: fmt.Sprintf("The validation agent timed out after %v.", a.timeout),
		}, nil
	case err != nil:
		log.With("error", err).With("stderr", truncate(stderr.String(), 2048)).
			Warn("Agent process failed")
		return rules.Verdict{
			Passed:      false,
			Explanation: fmt.Sprintf("The validation agent failed to run: %v.", err),
		}, nil
	}

	return rules.ParseVerdict(stdout.String()), nil
}

func buildPrompt(rule rules.Descriptor, in rules.Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are validating the %q architectural rule against the repository in your working directory (%s/%s at commit %s).\n\n",
		rule.Name, in.Owner, in.Repo, in.CommitSHA)
	b.WriteString(rule.Instructions)
	b.WriteString("\n\n")
	if in.Diffs != "" {
		b.WriteString("Focus on the following changes:\n\n")
		b.WriteString(in.Diffs)
		b.WriteString("\n\n")
	}
	b.WriteString(verdictContract)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package checks

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"

	"chainguard.dev/checkaf/rules"
)

// GitHub caps annotations per check-run update request.
const maxAnnotations = 50

// ClientSource mints installation-scoped GitHub clients.
type ClientSource interface {
	Client(ctx context.Context, installationID int64) (*github.Client, error)
}

// ExecutionArgs identifies one rule execution against one commit.
type ExecutionArgs struct {
	Owner          string
	Repo           string
	HeadSHA        string
	CheckName      string
	InstallationID int64

	// ExistingCheckRunID reuses a prior check run (re-requested runs) instead
	// of creating a new one.
	ExistingCheckRunID int64

	Title   string
	Summary string

	// DetailsURL overrides the ledger's derived details link for this rule.
	DetailsURL string
}

// Ledger records rule execution progress as GitHub check runs.
type Ledger struct {
	clients    ClientSource
	detailsURL string
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithDetailsURL sets the base URL linked from each check run's Details
// button.
func WithDetailsURL(base string) LedgerOption {
	return func(l *Ledger) { l.detailsURL = strings.TrimSuffix(base, "/") }
}

// NewLedger constructs a Ledger backed by the given client source.
func NewLedger(clients ClientSource, opts ...LedgerOption) *Ledger {
	l := &Ledger{clients: clients}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) detailsFor(checkName string) string {
	if l.detailsURL == "" {
		return ""
	}
	return l.detailsURL + "/" + strings.ReplaceAll(strings.ToLower(checkName), " ", "-")
}

// CreateQueued creates a check run in the queued state, or resets an existing
// one back to queued when args.ExistingCheckRunID is set. It returns the
// check-run ID used for the rest of the lifecycle.
func (l *Ledger) CreateQueued(ctx context.Context, args ExecutionArgs) (int64, error) {
	gh, err := l.clients.Client(ctx, args.InstallationID)
	if err != nil {
		return 0, err
	}

	status := "queued"
	output := &github.CheckRunOutput{
		Title:   github.Ptr(args.Title),
		Summary: github.Ptr(args.Summary),
	}

	if args.ExistingCheckRunID != 0 {
		run, _, err := gh.Checks.UpdateCheckRun(ctx, args.Owner, args.Repo, args.ExistingCheckRunID, github.UpdateCheckRunOptions{
			Name:   args.CheckName,
			Status: github.Ptr(status),
			Output: output,
		})
		if err != nil {
			return 0, fmt.Errorf("resetting check run %d to queued: %w", args.ExistingCheckRunID, err)
		}
		return run.GetID(), nil
	}

	opts := github.CreateCheckRunOptions{
		Name:    args.CheckName,
		HeadSHA: args.HeadSHA,
		Status:  github.Ptr(status),
		Output:  output,
	}
	detailsURL := args.DetailsURL
	if detailsURL == "" {
		detailsURL = l.detailsFor(args.CheckName)
	}
	if detailsURL != "" {
		opts.DetailsURL = github.Ptr(detailsURL)
	}
	run, _, err := gh.Checks.CreateCheckRun(ctx, args.Owner, args.Repo, opts)
	if err != nil {
		return 0, fmt.Errorf("creating queued check run for %q: %w", args.CheckName, err)
	}
	clog.FromContext(ctx).With("check", args.CheckName).
		With("check_run_id", run.GetID()).
		Info("Created queued check run")
	return run.GetID(), nil
}

// BeginExecution transitions the check run to in_progress. The output is
// reset to a fixed running message so a re-requested run does not show stale
// results from its prior execution.
func (l *Ledger) BeginExecution(ctx context.Context, args ExecutionArgs, checkRunID int64) error {
	gh, err := l.clients.Client(ctx, args.InstallationID)
	if err != nil {
		return err
	}
	_, _, err = gh.Checks.UpdateCheckRun(ctx, args.Owner, args.Repo, checkRunID, github.UpdateCheckRunOptions{
		Name:   args.CheckName,
		Status: github.Ptr("in_progress"),
		Output: &github.CheckRunOutput{
			Title:   github.Ptr(args.Title),
			Summary: github.Ptr("Validation is running."),
		},
	})
	if err != nil {
		return fmt.Errorf("marking check run %d in progress: %w", checkRunID, err)
	}
	return nil
}

// Complete finishes the check run with a conclusion derived from the verdict.
// workspaceDir roots annotation path resolution; pass "" when validation ran
// without a local checkout.
func (l *Ledger) Complete(ctx context.Context, args ExecutionArgs, checkRunID int64, verdict rules.Verdict, workspaceDir string) error {
	gh, err := l.clients.Client(ctx, args.InstallationID)
	if err != nil {
		return err
	}

	conclusion := "failure"
	title := fmt.Sprintf("%s Check Failed", args.CheckName)
	if verdict.Passed {
		conclusion = "success"
		title = fmt.Sprintf("%s Check Passed", args.CheckName)
	}

	output := &github.CheckRunOutput{
		Title:   github.Ptr(title),
		Summary: github.Ptr(summaryText(verdict)),
		Text:    github.Ptr(detailText(verdict, workspaceDir)),
	}
	if anns := buildAnnotations(verdict.Violations, workspaceDir); len(anns) > 0 {
		output.Annotations = anns
	}

	_, _, err = gh.Checks.UpdateCheckRun(ctx, args.Owner, args.Repo, checkRunID, github.UpdateCheckRunOptions{
		Name:       args.CheckName,
		Status:     github.Ptr("completed"),
		Conclusion: github.Ptr(conclusion),
		Output:     output,
	})
	if err != nil {
		return fmt.Errorf("completing check run %d: %w", checkRunID, err)
	}
	clog.FromContext(ctx).With("check", args.CheckName).
		With("check_run_id", checkRunID).
		With("conclusion", conclusion).
		Info("Completed check run")
	return nil
}

// summaryText is the verdict's free-text explanation, with a plain default
// when the agent offered none.
func summaryText(verdict rules.Verdict) string {
	if verdict.Explanation != "" {
		return verdict.Explanation
	}
	if verdict.Passed {
		return "All checks passed."
	}
	return "Validation failed."
}

// detailText renders the verdict as check-run markdown: violations as a
// bullet list followed by the explanation. Paths are made repository-relative
// where possible; violations whose paths could not be resolved still appear
// here with the path the agent reported.
func detailText(verdict rules.Verdict, workspaceDir string) string {
	var sb strings.Builder
	if len(verdict.Violations) > 0 {
		sb.WriteString("### Violations\n")
		for _, v := range verdict.Violations {
			file := v.File
			if rel, ok := RelativePath(v.File, workspaceDir); ok {
				file = rel
			}
			switch {
			case file != "" && v.Line > 0:
				fmt.Fprintf(&sb, "- `%s:%d`: %s\n", file, v.Line, v.Message)
			case file != "":
				fmt.Fprintf(&sb, "- `%s`: %s\n", file, v.Message)
			default:
				fmt.Fprintf(&sb, "- %s\n", v.Message)
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString(summaryText(verdict))
	return sb.String()
}

// buildAnnotations converts resolvable violations to check-run annotations,
// capped at the per-request limit. Violations whose file path cannot be made
// repository-relative appear only in the summary text.
func buildAnnotations(violations []rules.Violation, workspaceDir string) []*github.CheckRunAnnotation {
	var anns []*github.CheckRunAnnotation
	for _, v := range violations {
		if len(anns) == maxAnnotations {
			break
		}
		if v.File == "" || v.Line <= 0 {
			continue
		}
		rel, ok := RelativePath(v.File, workspaceDir)
		if !ok {
			continue
		}
		anns = append(anns, &github.CheckRunAnnotation{
			Path:            github.Ptr(rel),
			StartLine:       github.Ptr(v.Line),
			EndLine:         github.Ptr(v.Line),
			AnnotationLevel: github.Ptr("failure"),
			Message:         github.Ptr(v.Message),
		})
	}
	return anns
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chainguard.dev/checkaf/checks"
	"chainguard.dev/checkaf/rules"
	"chainguard.dev/checkaf/workqueue"
	"chainguard.dev/checkaf/workspace"
)

var mValidations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkaf_rule_validations_total",
	Help: "Rule validations by conclusion.",
}, []string{"rule", "conclusion"})

// Request describes one commit to validate, assembled by a webhook handler.
type Request struct {
	Owner          string
	Repo           string
	HeadSHA        string
	InstallationID int64
	CloneURL       string

	// SummarySuffix is appended to the queued check-run summary, typically
	// naming the triggering event.
	SummarySuffix string

	// CheckNameFilter restricts validation to the named rule (re-requested
	// check runs). Empty means all registered rules.
	CheckNameFilter string

	// ExistingCheckRunID reuses a prior check run instead of creating a new
	// one. Only meaningful with a CheckNameFilter naming a single rule.
	ExistingCheckRunID int64
}

// Ledger records check-run lifecycle transitions.
type Ledger interface {
	CreateQueued(ctx context.Context, args checks.ExecutionArgs) (int64, error)
	BeginExecution(ctx context.Context, args checks.ExecutionArgs, checkRunID int64) error
	Complete(ctx context.Context, args checks.ExecutionArgs, checkRunID int64, verdict rules.Verdict, workspaceDir string) error
}

// Acquirer produces and reclaims repository checkouts.
type Acquirer interface {
	Acquire(ctx context.Context, target workspace.Target) (string, error)
	Release(ctx context.Context, dir string) error
}

// TokenProvider proves an installation token can be minted before any check
// run is created.
type TokenProvider interface {
	Token(ctx context.Context, installationID int64) (string, error)
}

// Enqueuer accepts Phase-2 tasks.
type Enqueuer interface {
	Enqueue(task workqueue.Task) error
}

// Engine coordinates the two-phase validation flow.
type Engine struct {
	registry *rules.Registry
	strategy rules.Strategy
	ledger   Ledger
	acquirer Acquirer
	tokens   TokenProvider
	queue    Enqueuer

	cleanupAfterValidation bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCleanupAfterValidation controls whether workspaces are released as soon
// as a delivery's rules finish. Disabled, the retention sweeper is the only
// reclamation path, which is useful when debugging agent behavior in place.
func WithCleanupAfterValidation(enabled bool) Option {
	return func(e *Engine) { e.cleanupAfterValidation = enabled }
}

// New constructs an Engine. All collaborators are required except the
// acquirer, which may be nil when the strategy never needs a workspace.
func New(registry *rules.Registry, strategy rules.Strategy, ledger Ledger, acquirer Acquirer, tokens TokenProvider, queue Enqueuer, opts ...Option) (*Engine, error) {
	switch {
	case registry == nil:
		return nil, errors.New("registry is required")
	case strategy == nil:
		return nil, errors.New("strategy is required")
	case ledger == nil:
		return nil, errors.New("ledger is required")
	case tokens == nil:
		return nil, errors.New("token provider is required")
	case queue == nil:
		return nil, errors.New("work queue is required")
	}
	if strategy.NeedsWorkspace() && acquirer == nil {
		return nil, errors.New("strategy needs a workspace but no acquirer was provided")
	}
	e := &Engine{
		registry:               registry,
		strategy:               strategy,
		ledger:                 ledger,
		acquirer:               acquirer,
		tokens:                 tokens,
		queue:                  queue,
		cleanupAfterValidation: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// execution pairs a rule with its live check run for Phase 2.
type execution struct {
	rule       rules.Descriptor
	args       checks.ExecutionArgs
	checkRunID int64
}

// Process runs Phase 1 synchronously: verify token access, create a queued
// check run per applicable rule, and enqueue one Phase-2 task covering them
// all. When Process returns nil every applicable rule has a visible queued
// check run.
func (e *Engine) Process(ctx context.Context, req Request) error {
	log := clog.FromContext(ctx).With("repo", req.Owner+"/"+req.Repo).
		With("commit", req.HeadSHA)

	applicable := e.registry.Filter(req.CheckNameFilter)
	if len(applicable) == 0 {
		log.With("filter", req.CheckNameFilter).Info("No applicable rules")
		return nil
	}

	// Fail fast before any check run exists: a delivery that cannot mint a
	// token would otherwise create runs nothing can ever complete.
	if _, err := e.tokens.Token(ctx, req.InstallationID); err != nil {
		return fmt.Errorf("verifying installation access: %w", err)
	}

	summary := "Queued for validation"
	if req.SummarySuffix != "" {
		summary += " (" + req.SummarySuffix + ")"
	}

	executions := make([]execution, 0, len(applicable))
	for _, rule := range applicable {
		args := checks.ExecutionArgs{
			Owner:              req.Owner,
			Repo:               req.Repo,
			HeadSHA:            req.HeadSHA,
			CheckName:          rule.Name,
			InstallationID:     req.InstallationID,
			ExistingCheckRunID: req.ExistingCheckRunID,
			Title:              rule.Name,
			Summary:            summary,
			DetailsURL:         rule.DetailsURL,
		}
		id, err := e.ledger.CreateQueued(ctx, args)
		if err != nil {
			return fmt.Errorf("queueing check run for %q: %w", rule.Name, err)
		}
		executions = append(executions, execution{rule: rule, args: args, checkRunID: id})
	}

	if err := e.queue.Enqueue(func(taskCtx context.Context) {
		e.validate(taskCtx, req, executions)
	}); err != nil {
		// The queued runs stay visible; GitHub's re-run button recovers them.
		return fmt.Errorf("enqueueing validation for %s/%s@%s: %w", req.Owner, req.Repo, req.HeadSHA, err)
	}
	log.With("rules", len(executions)).Info("Queued validation")
	return nil
}

// validate is Phase 2. Workspace acquisition failure aborts the whole
// delivery; per-rule failures are contained.
func (e *Engine) validate(ctx context.Context, req Request, executions []execution) {
	log := clog.FromContext(ctx).With("repo", req.Owner+"/"+req.Repo).
		With("commit", req.HeadSHA)

	var workspaceDir string
	if e.strategy.NeedsWorkspace() {
		dir, err := e.acquirer.Acquire(ctx, workspace.Target{
			Owner:          req.Owner,
			Repo:           req.Repo,
			CommitSHA:      req.HeadSHA,
			CloneURL:       req.CloneURL,
			InstallationID: req.InstallationID,
		})
		if err != nil {
			log.With("error", err).Error("Workspace acquisition failed, abandoning delivery")
			return
		}
		workspaceDir = dir
		if e.cleanupAfterValidation {
			defer func() {
				if err := e.acquirer.Release(ctx, workspaceDir); err != nil {
					log.With("error", err).Warn("Could not release workspace")
				}
			}()
		}
	}

	input := rules.Input{
		WorkspaceDir:   workspaceDir,
		Owner:          req.Owner,
		Repo:           req.Repo,
		CommitSHA:      req.HeadSHA,
		InstallationID: req.InstallationID,
	}

	var errs []error
	for _, exec := range executions {
		if err := e.validateRule(ctx, exec, input, workspaceDir); err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", exec.rule.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.With("error", err).Error("Validation finished with errors")
		return
	}
	log.With("rules", len(executions)).Info("Validation finished")
}

// validateRule drives one rule through in_progress to completed behind its
// own panic boundary.
func (e *Engine) validateRule(ctx context.Context, exec execution, input rules.Input, workspaceDir string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			verdict := rules.Verdict{
				Passed:      false,
				Explanation: fmt.Sprintf("Validation crashed: %v", r),
			}
			if cerr := e.ledger.Complete(ctx, exec.args, exec.checkRunID, verdict, workspaceDir); cerr != nil {
				err = errors.Join(err, cerr)
			}
			mValidations.WithLabelValues(exec.rule.Name, "panic").Inc()
		}
	}()

	if err := e.ledger.BeginExecution(ctx, exec.args, exec.checkRunID); err != nil {
		return fmt.Errorf("beginning execution: %w", err)
	}

	verdict, err := e.strategy.Validate(ctx, exec.rule, input)
	if err != nil {
		// Strategy errors that escape the downgrade path still complete the
		// run so it never sticks in_progress.
		verdict = rules.Verdict{
			Passed:      false,
			Explanation: fmt.Sprintf("Validation could not run: %v", err),
		}
	}

	conclusion := "failure"
	if verdict.Passed {
		conclusion = "success"
	}
	mValidations.WithLabelValues(exec.rule.Name, conclusion).Inc()

	if cerr := e.ledger.Complete(ctx, exec.args, exec.checkRunID, verdict, workspaceDir); cerr != nil {
		return errors.Join(err, fmt.Errorf("completing check run: %w", cerr))
	}
	return err
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements the CheckAF webhook service: a GitHub App that runs
// named validation rules against commits via AI coding agents and reports the
// results as check runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"

	"chainguard.dev/checkaf/checks"
	"chainguard.dev/checkaf/engine"
	"chainguard.dev/checkaf/githubauth"
	"chainguard.dev/checkaf/rules"
	"chainguard.dev/checkaf/rules/agent"
	"chainguard.dev/checkaf/webhook"
	"chainguard.dev/checkaf/workqueue"
	"chainguard.dev/checkaf/workspace"
)

type config struct {
	Port        int `env:"PORT,default=8080"`
	MetricsPort int `env:"METRICS_PORT,default=2112"`

	GitHubAppID          int64  `env:"GITHUB_APP_ID,required"`
	GitHubPrivateKeyPath string `env:"GITHUB_PRIVATE_KEY_PATH,required"`
	GitHubWebhookSecret  string `env:"GITHUB_WEBHOOK_SECRET"`

	AgentKind      string        `env:"AGENT_KIND,default=cli"`
	AgentCommand   string        `env:"AGENT_COMMAND"`
	AgentTimeout   time.Duration `env:"AGENT_TIMEOUT,default=10m"`
	AnthropicModel string        `env:"ANTHROPIC_MODEL"`

	CloneBaseDir       string        `env:"CLONE_BASE_DIR,default=/tmp/checkaf"`
	CloneRetryAttempts int           `env:"CLONE_RETRY_ATTEMPTS,default=3"`
	CloneRetryDelay    time.Duration `env:"CLONE_RETRY_DELAY,default=5s"`
	CloneTimeout       time.Duration `env:"CLONE_TIMEOUT,default=5m"`

	CleanupInterval        time.Duration `env:"CLEANUP_INTERVAL,default=60m"`
	MaxRetentionHours      int           `env:"MAX_RETENTION_HOURS,default=2"`
	MinFreeBytes           uint64        `env:"MIN_FREE_BYTES,default=0"`
	CleanupAfterValidation bool          `env:"CLEANUP_AFTER_VALIDATION,default=true"`

	Workers       int `env:"WORKERS,default=4"`
	QueueCapacity int `env:"QUEUE_CAPACITY,default=64"`

	DetailsURLBase string `env:"DETAILS_URL_BASE"`
	RulesPath      string `env:"RULES_PATH"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	tokens, err := githubauth.New(cfg.GitHubAppID, cfg.GitHubPrivateKeyPath)
	if err != nil {
		clog.FatalContextf(ctx, "creating token cache: %v", err)
	}

	descriptors := builtinRules()
	if cfg.RulesPath != "" {
		descriptors, err = loadRules(cfg.RulesPath)
		if err != nil {
			clog.FatalContextf(ctx, "loading rules: %v", err)
		}
	}
	registry, err := rules.NewRegistry(descriptors...)
	if err != nil {
		clog.FatalContextf(ctx, "building rule registry: %v", err)
	}

	strategy, err := agent.New(agent.Config{
		Kind:    agent.Kind(cfg.AgentKind),
		Command: cfg.AgentCommand,
		Timeout: cfg.AgentTimeout,
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		Model:   cfg.AnthropicModel,
		Clients: tokens,
	})
	if err != nil {
		clog.FatalContextf(ctx, "creating validation strategy: %v", err)
	}

	var ledgerOpts []checks.LedgerOption
	if cfg.DetailsURLBase != "" {
		ledgerOpts = append(ledgerOpts, checks.WithDetailsURL(cfg.DetailsURLBase))
	}
	ledger := checks.NewLedger(tokens, ledgerOpts...)

	var acquirer *workspace.Acquirer
	if strategy.NeedsWorkspace() {
		acquirer, err = workspace.NewAcquirer(cfg.CloneBaseDir, tokens,
			workspace.WithRetry(cfg.CloneRetryAttempts, cfg.CloneRetryDelay),
			workspace.WithCloneTimeout(cfg.CloneTimeout))
		if err != nil {
			clog.FatalContextf(ctx, "creating workspace acquirer: %v", err)
		}

		sweeper := workspace.NewSweeper(cfg.CloneBaseDir,
			workspace.WithInterval(cfg.CleanupInterval),
			workspace.WithMaxRetention(time.Duration(cfg.MaxRetentionHours)*time.Hour),
			workspace.WithMinFreeBytes(cfg.MinFreeBytes))
		go sweeper.Run(ctx)
	}

	dispatcher, err := workqueue.NewDispatcher(cfg.Workers, cfg.QueueCapacity)
	if err != nil {
		clog.FatalContextf(ctx, "creating dispatcher: %v", err)
	}
	// Tasks run on a context detached from the shutdown signal so in-flight
	// validations can still complete their check runs during the drain.
	dispatcher.Start(context.WithoutCancel(ctx))

	var engineOpts []engine.Option
	engineOpts = append(engineOpts, engine.WithCleanupAfterValidation(cfg.CleanupAfterValidation))
	var acq engine.Acquirer
	if acquirer != nil {
		acq = acquirer
	}
	eng, err := engine.New(registry, strategy, ledger, acq, tokens, dispatcher, engineOpts...)
	if err != nil {
		clog.FatalContextf(ctx, "creating engine: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/github/webhook", webhook.NewHandler(
		webhook.NewAuthenticator(cfg.GitHubWebhookSecret),
		webhook.NewRouter(eng)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		clog.InfoContextf(ctx, "Serving metrics on port %d", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.ErrorContextf(ctx, "metrics server failed: %v", err)
		}
	}()
	go func() {
		clog.InfoContextf(ctx, "Serving webhooks on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.FatalContextf(ctx, "webhook server failed: %v", err)
		}
	}()

	<-ctx.Done()
	clog.InfoContextf(ctx, "Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		clog.ErrorContextf(shutdownCtx, "shutting down webhook server: %v", err)
	}
	if err := dispatcher.Drain(shutdownCtx); err != nil {
		clog.ErrorContextf(shutdownCtx, "draining work queue: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		clog.ErrorContextf(shutdownCtx, "shutting down metrics server: %v", err)
	}
}

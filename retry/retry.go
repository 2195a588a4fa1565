/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry provides a small generic retry helper shared by the
// repository acquirer (linear backoff between clone attempts) and the
// API-based validation strategy (exponential backoff for rate limits).
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config configures retry behavior for calls that may fail transiently.
type Config struct {
	// MaxRetries is the maximum number of retry attempts after the first try.
	// 0 means do not retry at all.
	MaxRetries int
	// BaseDelay is the initial delay between attempts.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// MaxJitter is the maximum random jitter added to each delay.
	MaxJitter time.Duration
	// Linear selects delay = BaseDelay * attempt rather than exponential
	// doubling. Clone retries use this shape.
	Linear bool
}

// Validate checks that the retry configuration has valid values.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.BaseDelay < 0 {
		return errors.New("base delay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return errors.New("max delay cannot be negative")
	}
	if c.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// Exponential returns a configuration suited to quota and rate limit errors,
// which often need a while to recover.
func Exponential() Config {
	return Config{
		MaxRetries: 5,
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
		MaxJitter:  500 * time.Millisecond,
	}
}

// Linear returns a configuration with linearly increasing delays and no
// jitter, matching the clone retry policy.
func Linear(maxRetries int, delay time.Duration) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  delay,
		MaxDelay:   delay * time.Duration(maxRetries+1),
		Linear:     true,
	}
}

// delay computes the sleep before retrying after the given 1-based attempt.
func (c Config) delay(attempt int) time.Duration {
	var d time.Duration
	if c.Linear {
		d = c.BaseDelay * time.Duration(attempt)
	} else {
		d = c.BaseDelay << (attempt - 1)
	}
	if c.MaxDelay > 0 {
		d = min(d, c.MaxDelay)
	}
	return d
}

// Do executes fn with retries. fn receives the 1-based attempt number so that
// callers can vary behavior on the final attempt (the acquirer's
// unauthenticated fallback does this). Only errors classified as retryable by
// isRetryable are retried.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func(attempt int) (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		result, lastErr = fn(attempt)
		if lastErr == nil {
			return result, nil
		}

		if !isRetryable(lastErr) {
			return result, lastErr
		}

		if attempt > cfg.MaxRetries {
			break
		}

		backoff := cfg.delay(attempt)

		// Add random jitter to avoid thundering herd
		var jitter time.Duration
		if cfg.MaxJitter > 0 {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(cfg.MaxJitter)))
			if err == nil {
				jitter = time.Duration(n.Int64())
			}
		}

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt).
			With("max_retries", cfg.MaxRetries).
			With("backoff", backoff+jitter).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	return result, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, lastErr)
}

// Always is an isRetryable predicate that retries every error.
func Always(error) bool { return true }

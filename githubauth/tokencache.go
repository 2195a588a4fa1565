/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"
)

// ErrTokenExchange indicates the GitHub Apps API refused to exchange the app
// assertion for an installation token. The whole delivery aborts on this; no
// check runs are created.
var ErrTokenExchange = errors.New("installation token exchange failed")

// Tokens past expiry minus this skew are treated as expired and replaced, so
// a token never goes stale mid-validation.
const expirySkew = 5 * time.Minute

// TokenCache exchanges a GitHub App identity for per-installation access
// tokens and caches them until near expiry.
type TokenCache struct {
	apps    *github.Client
	baseURL *url.URL

	mu      sync.Mutex // guards entries; per-entry refresh holds entry.mu only
	entries map[int64]*entry
}

type entry struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Option configures a TokenCache.
type Option func(*options)

type options struct {
	baseURL   string
	transport http.RoundTripper
}

// WithBaseURL points the cache at a GitHub Enterprise (or test) API root.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithTransport overrides the underlying HTTP transport.
func WithTransport(tr http.RoundTripper) Option {
	return func(o *options) { o.transport = tr }
}

// New constructs a TokenCache for the given app. Failure to load or parse the
// private key fails construction; there is no lazy key loading to go wrong at
// delivery time.
func New(appID int64, privateKeyPath string, opts ...Option) (*TokenCache, error) {
	o := &options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}

	atr, err := ghinstallation.NewAppsTransportKeyFromFile(o.transport, appID, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading app private key: %w", err)
	}

	apps := github.NewClient(&http.Client{Transport: atr})
	c := &TokenCache{
		apps:    apps,
		entries: make(map[int64]*entry),
	}
	if o.baseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		atr.BaseURL = strings.TrimSuffix(o.baseURL, "/")
		apps.BaseURL = base
		c.baseURL = base
	}
	return c, nil
}

func (c *TokenCache) entry(installationID int64) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[installationID]
	if !ok {
		e = &entry{}
		c.entries[installationID] = e
	}
	return e
}

// Token returns a valid installation token, refreshing it when the cached one
// is within five minutes of expiry. Exchange failures are not retried;
// GitHub's webhook redelivery is the retry path.
func (c *TokenCache) Token(ctx context.Context, installationID int64) (string, error) {
	e := c.entry(installationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.token != "" && time.Until(e.expiresAt) > expirySkew {
		return e.token, nil
	}

	tok, _, err := c.apps.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("%w: installation %d: %w", ErrTokenExchange, installationID, err)
	}

	e.token = tok.GetToken()
	e.expiresAt = tok.GetExpiresAt().Time
	clog.FromContext(ctx).With("installation", installationID).
		With("expires_at", e.expiresAt).
		Info("Exchanged installation token")
	return e.token, nil
}

// Client returns a go-github client authenticated as the installation.
func (c *TokenCache) Client(ctx context.Context, installationID int64) (*github.Client, error) {
	token, err := c.Token(ctx, installationID)
	if err != nil {
		return nil, err
	}
	gh := github.NewClient(nil).WithAuthToken(token)
	if c.baseURL != nil {
		gh.BaseURL = c.baseURL
	}
	return gh, nil
}

// TokenSource adapts the cache to oauth2.TokenSource for git clone auth.
func (c *TokenCache) TokenSource(installationID int64) oauth2.TokenSource {
	return &tokenSource{cache: c, installationID: installationID}
}

type tokenSource struct {
	cache          *TokenCache
	installationID int64
}

// Token implements oauth2.TokenSource. The interface carries no context, so
// refreshes triggered through this path use the background context.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.cache.Token(context.Background(), ts.installationID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok}, nil
}

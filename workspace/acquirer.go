/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"chainguard.dev/checkaf/retry"
)

// ErrAcquisition indicates the repository could not be cloned after all
// retries. Validation cannot proceed without a checkout, so the delivery
// aborts on this error.
var ErrAcquisition = errors.New("repository acquisition failed")

var fullSHA = regexp.MustCompile(`^[0-9a-f]{40}$`)

// TokenSources mints per-installation git credentials.
type TokenSources interface {
	TokenSource(installationID int64) oauth2.TokenSource
}

// Target identifies the repository state to acquire.
type Target struct {
	Owner          string
	Repo           string
	CommitSHA      string
	CloneURL       string
	InstallationID int64
}

// Acquirer clones repositories into uniquely named workspace directories.
type Acquirer struct {
	baseDir      string
	tokens       TokenSources
	attempts     int
	retryDelay   time.Duration
	cloneTimeout time.Duration
}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithRetry sets the clone attempt count and the linear per-attempt delay.
func WithRetry(attempts int, delay time.Duration) AcquirerOption {
	return func(a *Acquirer) {
		a.attempts = attempts
		a.retryDelay = delay
	}
}

// WithCloneTimeout bounds each individual clone attempt.
func WithCloneTimeout(d time.Duration) AcquirerOption {
	return func(a *Acquirer) { a.cloneTimeout = d }
}

// NewAcquirer constructs an Acquirer rooted at baseDir, creating the base if
// needed.
func NewAcquirer(baseDir string, tokens TokenSources, opts ...AcquirerOption) (*Acquirer, error) {
	if baseDir == "" {
		return nil, errors.New("base directory must not be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace base %q: %w", baseDir, err)
	}
	a := &Acquirer{
		baseDir:      baseDir,
		tokens:       tokens,
		attempts:     3,
		retryDelay:   5 * time.Second,
		cloneTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// workspacePath builds a collision-free directory name from the repo, the
// commit prefix, wall time, and a random suffix, so concurrent acquisitions
// of the same commit never share a checkout.
func (a *Acquirer) workspacePath(target Target) string {
	sha := target.CommitSHA
	if len(sha) > 8 {
		sha = sha[:8]
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := fmt.Sprintf("%s-%s-%d-%s", target.Repo, sha, time.Now().UnixNano(), random)
	return filepath.Join(a.baseDir, name)
}

// Acquire clones the target repository and checks out its commit, returning
// the workspace directory. Clone failures retry with a linearly growing
// delay; every attempt clones with installation credentials, and when the
// final authenticated attempt also fails it additionally retries without
// credentials in case the token is the problem and the repository is public.
// Checkout failures are tolerated: the clone's default branch head is
// validated instead.
func (a *Acquirer) Acquire(ctx context.Context, target Target) (string, error) {
	log := clog.FromContext(ctx).With("repo", target.Owner+"/"+target.Repo).
		With("commit", target.CommitSHA)

	cfg := retry.Linear(a.attempts-1, a.retryDelay)
	dir, err := retry.Do(ctx, cfg, "clone", retry.Always, func(attempt int) (string, error) {
		var auth *githttp.BasicAuth
		if a.tokens != nil {
			tok, err := a.tokens.TokenSource(target.InstallationID).Token()
			if err != nil {
				return "", fmt.Errorf("minting clone token: %w", err)
			}
			auth = &githttp.BasicAuth{Username: "x-access-token", Password: tok.AccessToken}
		}
		dir, cloneErr := a.cloneOnce(ctx, target, auth)
		if cloneErr == nil {
			return dir, nil
		}
		if attempt == a.attempts && auth != nil {
			log.With("error", cloneErr).Warn("Final authenticated clone attempt failed, retrying unauthenticated")
			if dir, err := a.cloneOnce(ctx, target, nil); err == nil {
				return dir, nil
			}
		}
		return "", cloneErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s@%s: %w", ErrAcquisition, target.Owner, target.Repo, target.CommitSHA, err)
	}
	log.With("workspace", dir).Info("Acquired workspace")
	return dir, nil
}

func (a *Acquirer) cloneOnce(ctx context.Context, target Target, auth *githttp.BasicAuth) (string, error) {
	dir := a.workspacePath(target)

	cloneCtx, cancel := context.WithTimeout(ctx, a.cloneTimeout)
	defer cancel()

	repo, err := git.PlainCloneContext(cloneCtx, dir, false, &git.CloneOptions{
		URL:  target.CloneURL,
		Auth: auth,
	})
	if err != nil {
		// A failed clone may leave a partial directory behind; remove it so
		// the next attempt starts clean.
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("cloning %s: %w", target.CloneURL, err)
	}

	if fullSHA.MatchString(target.CommitSHA) {
		if err := checkout(repo, target.CommitSHA); err != nil {
			clog.FromContext(ctx).With("commit", target.CommitSHA).
				With("error", err).
				Warn("Checkout failed, validating default branch head")
		}
	}
	return dir, nil
}

func checkout(repo *git.Repository, sha string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha)}); err != nil {
		return fmt.Errorf("checking out %s: %w", sha, err)
	}
	return nil
}

// Release deletes a workspace directory. Read-only file modes left behind by
// build tooling are cleared first so removal cannot wedge. Releasing a path
// that no longer exists is a no-op.
func (a *Acquirer) Release(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	// Best effort: make everything writable before deletion.
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().Perm()&0o200 == 0 {
			_ = os.Chmod(path, info.Mode().Perm()|0o200)
		}
		return nil
	})

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing workspace %q: %w", dir, err)
	}
	clog.FromContext(ctx).With("workspace", dir).Debug("Released workspace")
	return nil
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package apiagent

import (
	"context"
	"fmt"
	"path"
	"strings"

	"chainguard.dev/checkaf/rules"
	"github.com/chainguard-dev/clog"
)

// repoFile is one blob fetched from the commit's tree.
type repoFile struct {
	path    string
	content string
}

// binaryExtensions lists file suffixes that are never useful in a prompt.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".jar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".woff": true,
	".woff2": true, ".ttf": true, ".eot": true, ".mp4": true, ".mp3": true,
	".lock": true,
}

// fetchFiles lists the commit's tree and downloads blobs until the configured
// caps are reached. Oversized and binary-looking files are skipped, not
// errored.
func (a *Agent) fetchFiles(ctx context.Context, in rules.Input) ([]repoFile, error) {
	gh, err := a.clients.Client(ctx, in.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("getting installation client: %w", err)
	}

	tree, _, err := gh.Git.GetTree(ctx, in.Owner, in.Repo, in.CommitSHA, true)
	if err != nil {
		return nil, fmt.Errorf("listing tree for %s: %w", in.CommitSHA, err)
	}

	log := clog.FromContext(ctx)
	if tree.GetTruncated() {
		log.With("commit", in.CommitSHA).Warn("Tree listing truncated by GitHub, validating a partial file set")
	}

	var files []repoFile
	for _, entry := range tree.Entries {
		if len(files) >= a.maxFiles {
			log.With("max_files", a.maxFiles).Warn("File cap reached, validating a partial file set")
			break
		}
		if entry.GetType() != "blob" {
			continue
		}
		if entry.GetSize() > a.maxFileBytes {
			continue
		}
		if binaryExtensions[strings.ToLower(path.Ext(entry.GetPath()))] {
			continue
		}

		content, _, err := gh.Git.GetBlobRaw(ctx, in.Owner, in.Repo, entry.GetSHA())
		if err != nil {
			return nil, fmt.Errorf("fetching blob %s: %w", entry.GetPath(), err)
		}
		files = append(files, repoFile{path: entry.GetPath(), content: string(content)})
	}

	return files, nil
}

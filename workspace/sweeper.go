/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v4/disk"
)

var (
	mSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkaf_workspace_sweeps_total",
		Help: "Number of retention sweep passes.",
	})
	mSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkaf_workspace_directories_removed_total",
		Help: "Workspace directories removed by the sweeper.",
	})
	mBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkaf_workspace_bytes_freed_total",
		Help: "Bytes reclaimed by the sweeper.",
	})
)

// Sweeper periodically deletes workspace directories past their retention
// window, and everything it can when the disk is nearly full.
type Sweeper struct {
	baseDir      string
	interval     time.Duration
	maxRetention time.Duration
	minFreeBytes uint64

	// freeBytes is swappable for tests.
	freeBytes func(path string) (uint64, error)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets how often a sweep pass runs.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithMaxRetention sets the age past which a workspace is deleted regardless
// of disk pressure.
func WithMaxRetention(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.maxRetention = d }
}

// WithMinFreeBytes sets the free-disk floor below which a sweep deletes every
// workspace, not just expired ones.
func WithMinFreeBytes(n uint64) SweeperOption {
	return func(s *Sweeper) { s.minFreeBytes = n }
}

// NewSweeper constructs a Sweeper over baseDir.
func NewSweeper(baseDir string, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		baseDir:      baseDir,
		interval:     time.Hour,
		maxRetention: 2 * time.Hour,
		freeBytes: func(path string) (uint64, error) {
			usage, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return usage.Free, nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until the context is canceled. One
// pass runs immediately at startup to clear leftovers from a prior crash.
func (s *Sweeper) Run(ctx context.Context) {
	log := clog.FromContext(ctx).With("base_dir", s.baseDir)
	log.With("interval", s.interval).With("max_retention", s.maxRetention).
		Info("Starting workspace sweeper")

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping workspace sweeper")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: first the age-based sweep of expired workspaces,
// then a free-disk check. Only if the volume is still below the floor after
// the age pass does the emergency pass delete the remaining workspaces, so
// fresh checkouts backing in-flight validations survive whenever expiry
// alone reclaims enough space.
func (s *Sweeper) Sweep(ctx context.Context) {
	log := clog.FromContext(ctx)
	mSweeps.Inc()

	s.removeOlderThan(ctx, s.maxRetention)

	if s.minFreeBytes == 0 {
		return
	}
	free, err := s.freeBytes(s.baseDir)
	if err != nil {
		log.With("error", err).Warn("Could not read free disk space")
		return
	}
	if free >= s.minFreeBytes {
		return
	}
	log.With("free_bytes", free).With("floor", s.minFreeBytes).
		Warn("Free disk still below floor after age sweep, removing all workspaces")
	s.removeOlderThan(ctx, 0)
}

// removeOlderThan deletes workspace directories whose mod-time age exceeds
// minAge. A zero minAge removes every directory. Errors on individual
// directories are logged and skipped so one bad entry cannot block
// reclamation.
func (s *Sweeper) removeOlderThan(ctx context.Context, minAge time.Duration) {
	log := clog.FromContext(ctx)
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		log.With("error", err).Warn("Could not list workspace base")
		return
	}

	now := time.Now()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.baseDir, e.Name())
		info, err := e.Info()
		if err != nil {
			log.With("workspace", path).With("error", err).Warn("Could not stat workspace")
			continue
		}
		age := now.Sub(info.ModTime())
		if minAge > 0 && age <= minAge {
			continue
		}

		size, err := dirSize(path)
		if err != nil {
			size = 0
		}
		if err := os.RemoveAll(path); err != nil {
			log.With("workspace", path).With("error", err).Warn("Could not remove workspace")
			continue
		}
		mSwept.Inc()
		mBytesFreed.Add(float64(size))
		log.With("workspace", path).With("age", age.Round(time.Second)).
			With("bytes_freed", size).Info("Removed stale workspace")
	}
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("sizing %q: %w", root, err)
	}
	return total, nil
}

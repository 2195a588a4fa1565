/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull signals that the queue is at capacity; the delivery should
	// be rejected so GitHub can redeliver later.
	ErrQueueFull = errors.New("work queue is full")

	// ErrDraining signals that the dispatcher has begun shutdown and accepts
	// no new work.
	ErrDraining = errors.New("work queue is draining")
)

var (
	mDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkaf_workqueue_depth",
		Help: "Tasks waiting in the work queue.",
	})
	mInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkaf_workqueue_in_flight",
		Help: "Tasks currently executing.",
	})
	mRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkaf_workqueue_rejected_total",
		Help: "Tasks rejected because the queue was full or draining.",
	})
	mPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkaf_workqueue_panics_total",
		Help: "Panics recovered from task execution.",
	})
)

// Task is one unit of deferred work. The context passed to it is the
// dispatcher's run context, not the HTTP request's, so it survives the
// webhook response.
type Task func(ctx context.Context)

// Dispatcher runs tasks on a fixed worker pool behind a bounded queue.
type Dispatcher struct {
	tasks chan Task
	eg    *errgroup.Group

	mu       sync.Mutex
	draining bool
	started  bool

	workers int
}

// NewDispatcher constructs a Dispatcher with the given worker count and
// queue capacity.
func NewDispatcher(workers, capacity int) (*Dispatcher, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	return &Dispatcher{
		tasks:   make(chan Task, capacity),
		eg:      &errgroup.Group{},
		workers: workers,
	}, nil
}

// Start launches the worker pool. The given context is what tasks run under;
// it should outlive individual webhook requests.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	clog.FromContext(ctx).With("workers", d.workers).
		With("capacity", cap(d.tasks)).
		Info("Starting work dispatcher")
	for i := 0; i < d.workers; i++ {
		d.eg.Go(func() error {
			d.worker(ctx)
			return nil
		})
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for task := range d.tasks {
		mDepth.Dec()
		mInFlight.Inc()
		d.runOne(ctx, task)
		mInFlight.Dec()
	}
}

// runOne executes a single task behind a panic boundary so a bad rule
// implementation cannot take down the worker pool.
func (d *Dispatcher) runOne(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			mPanics.Inc()
			clog.FromContext(ctx).With("panic", r).
				With("stack", string(debug.Stack())).
				Error("Recovered panic in work task")
		}
	}()
	task(ctx)
}

// Enqueue adds a task to the queue. It never blocks: a full queue returns
// ErrQueueFull and a draining dispatcher returns ErrDraining.
func (d *Dispatcher) Enqueue(task Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		mRejected.Inc()
		return ErrDraining
	}
	select {
	case d.tasks <- task:
		mDepth.Inc()
		return nil
	default:
		mRejected.Inc()
		return ErrQueueFull
	}
}

// Drain stops intake and waits for queued and in-flight tasks to finish. The
// context bounds how long to wait; on expiry the remaining work is abandoned
// and the context's error returned.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return nil
	}
	d.draining = true
	close(d.tasks)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.eg.Wait()
		close(done)
	}()
	select {
	case <-done:
		clog.FromContext(ctx).Info("Work dispatcher drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining work queue: %w", ctx.Err())
	}
}

// Depth reports how many tasks are waiting (not yet executing).
func (d *Dispatcher) Depth() int {
	return len(d.tasks)
}

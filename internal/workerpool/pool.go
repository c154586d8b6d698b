// Package workerpool runs inbound requests on a fixed number of workers fed
// from a bounded queue. Every inbound transport submits its requests here
// instead of spawning a goroutine per request.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/casualjim/tagcast/internal/metrics"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/fogfish/opts"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by TrySubmit when no queue slot is free.
	ErrQueueFull = errors.New("workerpool: queue is full")
	// ErrStopped is returned once Run has returned.
	ErrStopped = errors.New("workerpool: stopped")
)

// Task is one unit of work. ctx is cancelled when the pool shuts down.
type Task func(ctx context.Context)

var (
	WithWorkers   = opts.ForName[Pool, int]("workers")
	WithQueueSize = opts.ForName[Pool, int]("queueSize")
	WithLogger    = opts.ForName[Pool, *slog.Logger]("logger")
)

type Pool struct {
	workers   int
	queueSize int
	logger    *slog.Logger

	queue    chan Task
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a pool with 32 workers and a queue of 1024 unless overridden.
func New(options ...opts.Option[Pool]) *Pool {
	p := &Pool{workers: 32, queueSize: 1024}
	if err := opts.Apply(p, options); err != nil {
		panic(err)
	}
	if p.workers <= 0 {
		p.workers = 1
	}
	if p.queueSize < 0 {
		p.queueSize = 0
	}
	p.logger = slogx.Component(p.logger, "workerpool")
	p.queue = make(chan Task, p.queueSize)
	p.stopped = make(chan struct{})
	return p
}

func (p *Pool) Workers() int {
	return p.workers
}

// Run starts the workers and blocks until ctx is cancelled. Tasks still queued
// at that point are dropped.
func (p *Pool) Run(ctx context.Context) error {
	defer p.stopOnce.Do(func() { close(p.stopped) })

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case task := <-p.queue:
					metrics.WorkQueueDepth.Set(float64(len(p.queue)))
					p.exec(gctx, task)
				}
			}
		})
	}
	p.logger.Debug("worker pool started",
		slog.Int("workers", p.workers),
		slog.Int("queue", p.queueSize),
	)
	return g.Wait()
}

func (p *Pool) exec(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", slogx.Error(fmt.Errorf("%v", r)))
		}
	}()
	task(ctx)
}

// Submit queues task, waiting for a free slot until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	select {
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case p.queue <- task:
		metrics.WorkQueueDepth.Set(float64(len(p.queue)))
		return nil
	}
}

// TrySubmit queues task only if a slot is free right now.
func (p *Pool) TrySubmit(task Task) error {
	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	select {
	case p.queue <- task:
		metrics.WorkQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Do submits task and waits for it to finish. A connection reader that calls
// Do for each frame gets its frames handled in order.
func (p *Pool) Do(ctx context.Context, task Task) error {
	done := make(chan struct{})
	err := p.Submit(ctx, func(ctx context.Context) {
		defer close(done)
		task(ctx)
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

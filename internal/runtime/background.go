package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/l0p7/hnedge/internal/metrics"
)

const (
	defaultWorkers   = 16
	defaultErrBuffer = 64
)

// TaskRunner schedules work that must outlive the request that triggered it.
// Go reports whether the task was accepted. Write is for short store writes:
// they are not bounded by the workers Go competes for.
type TaskRunner interface {
	Go(ctx context.Context, name string, task func(context.Context) error) bool
	Write(ctx context.Context, name string, task func(context.Context) error) bool
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Pool runs background tasks on a bounded number of goroutines. Tasks are
// never queued: when every slot is busy the task is dropped and logged.
// Writes bypass the bound but are tracked by Wait and Drain like any task.
// Task failures and recovered panics are published on Errors.
type Pool struct {
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Recorder
	wg      sync.WaitGroup
	errs    chan error

	mu     sync.Mutex
	closed bool
}

func NewPool(opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  logger.With(slog.String("agent", "background")),
		metrics: opts.Metrics,
		errs:    make(chan error, defaultErrBuffer),
	}
}

// Go starts task on its own goroutine. The task context keeps the values of
// ctx but is detached from its cancellation, so it survives the response.
func (p *Pool) Go(ctx context.Context, name string, task func(context.Context) error) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("background task rejected after drain", slog.String("task", name))
		p.metrics.ObserveTask(name, metrics.TaskDropped)
		return false
	}
	if !p.sem.TryAcquire(1) {
		p.mu.Unlock()
		p.logger.Warn("background pool saturated; dropping task", slog.String("task", name))
		p.metrics.ObserveTask(name, metrics.TaskDropped)
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	taskCtx := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.run(taskCtx, name, task)
	}()
	return true
}

// Write starts task on its own goroutine regardless of how many workers are
// busy. It is refused only once the pool has been drained.
func (p *Pool) Write(ctx context.Context, name string, task func(context.Context) error) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("background write rejected after drain", slog.String("task", name))
		p.metrics.ObserveTask(name, metrics.TaskDropped)
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	taskCtx := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		p.run(taskCtx, name, task)
	}()
	return true
}

func (p *Pool) run(ctx context.Context, name string, task func(context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("runtime: task %s panicked: %v", name, rec)
			p.logger.Error("background task panicked", slog.String("task", name), slog.Any("error", err))
			p.metrics.ObserveTask(name, metrics.TaskPanicked)
			p.publish(err)
		}
	}()
	if err := task(ctx); err != nil {
		err = fmt.Errorf("runtime: task %s: %w", name, err)
		p.logger.Debug("background task failed", slog.String("task", name), slog.Any("error", err))
		p.metrics.ObserveTask(name, metrics.TaskFailed)
		p.publish(err)
		return
	}
	p.metrics.ObserveTask(name, metrics.TaskCompleted)
}

// publish never blocks a worker; errors beyond the buffer are logged here
// instead of by the consumer of Errors.
func (p *Pool) publish(err error) {
	select {
	case p.errs <- err:
	default:
		p.logger.Warn("background error buffer full", slog.Any("error", err))
	}
}

// Errors exposes task failures for the hosting process to consume. Failures
// are logged at debug level only, so the host is expected to report them.
func (p *Pool) Errors() <-chan error {
	return p.errs
}

// Wait blocks until every accepted task has settled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Drain stops accepting tasks and waits for in-flight ones until ctx ends.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runtime: drain background pool: %w", ctx.Err())
	}
}

// Package services implements the inspection pipeline: snapshot staging,
// volume provisioning, cluster scaling, task dispatch, result collection and
// audit-log reconciliation.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/imagescout/imagescout/internal/cloud"
	"github.com/imagescout/imagescout/internal/logger"
)

// TaskFunc is one retryable pipeline step.
type TaskFunc func(ctx context.Context) error

// Runner schedules pipeline steps for asynchronous execution. Submitting
// never blocks on the step itself; failures are retried by the
// implementation.
type Runner interface {
	Submit(name string, fn TaskFunc)
}

type task struct {
	id   string
	name string
	fn   TaskFunc
}

// WorkerPool runs submitted tasks on a fixed set of goroutines, retrying
// transient cloud failures with exponential backoff. Non-transient errors
// stop a task immediately.
type WorkerPool struct {
	tasks       chan task
	maxAttempts uint64

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewWorkerPool creates a pool with the given queue depth and retry limit
func NewWorkerPool(queueDepth int, maxAttempts int) *WorkerPool {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &WorkerPool{
		tasks:       make(chan task, queueDepth),
		maxAttempts: uint64(maxAttempts),
	}
}

// Start launches size worker goroutines bound to ctx
func (p *WorkerPool) Start(ctx context.Context, size int) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < size; i++ {
			p.wg.Add(1)
			go p.work(ctx)
		}
		logger.Infof("Worker pool started with %d workers", size)
	})
}

// Stop cancels the workers and waits for in-flight tasks to finish
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		logger.Info("Worker pool stopped")
	})
}

// Submit queues a task for execution. Blocks only when the queue is full.
func (p *WorkerPool) Submit(name string, fn TaskFunc) {
	p.tasks <- task{id: uuid.NewString(), name: name, fn: fn}
}

func (p *WorkerPool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.tasks:
			p.run(ctx, t)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, t task) {
	logger.InfoWithFields("Task started", map[string]interface{}{
		"task_id": t.id,
		"task":    t.name,
	})

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.maxAttempts-1), ctx)
	err := backoff.Retry(func() error {
		err := t.fn(ctx)
		if err != nil && !cloud.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err != nil {
		logger.ErrorWithFields("Task failed", map[string]interface{}{
			"task_id": t.id,
			"task":    t.name,
			"error":   err.Error(),
		})
		return
	}
	logger.InfoWithFields("Task finished", map[string]interface{}{
		"task_id": t.id,
		"task":    t.name,
	})
}

// syncRunner executes tasks inline. It backs the places that need a step to
// finish before the caller continues, and the tests.
type syncRunner struct{}

// NewSyncRunner returns a Runner that executes each task immediately on the
// submitting goroutine, without retry.
func NewSyncRunner() Runner {
	return syncRunner{}
}

func (syncRunner) Submit(name string, fn TaskFunc) {
	if err := fn(context.Background()); err != nil {
		logger.Errorf("Task %s failed: %v", name, err)
	}
}

// RunPeriodic invokes fn every interval until ctx is canceled. The first run
// happens after one interval. Errors are logged, not fatal.
func RunPeriodic(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, fn TaskFunc) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Infof("Periodic task %s started, interval %s", name, interval)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("Periodic task %s stopped", name)
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Errorf("Periodic task %s failed: %v", name, err)
			}
		}
	}
}

// taskName builds a readable task name from a step and its subject, for logs.
func taskName(step, subject string) string {
	return fmt.Sprintf("%s[%s]", step, subject)
}

// Package queue provides the in-process asynchronous task queue that decouples
// webhook ingestion from the HTTP request and chains long-running jobs
// (media download, transcription, lookup callbacks, campaign sends).
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/pkg/logger"
	"github.com/simsocial/conversation-orchestrator/pkg/metrics"
)

// Task is a unit of asynchronous work. Failed tasks are retried with
// exponential backoff; once retries are exhausted, OnPermanentFailure fires
// exactly once so callers can apply their safety net (e.g. escalating a
// conversation to a human).
type Task struct {
	Name string
	Run  func(ctx context.Context) error

	// OnPermanentFailure is invoked after the final retry fails. Optional.
	OnPermanentFailure func(ctx context.Context, err error)

	// MaxRetries overrides the queue default when > 0.
	MaxRetries int
}

// Queue executes tasks on a fixed pool of workers.
type Queue struct {
	workers    int
	maxRetries int
	backoff    time.Duration
	logger     *logger.Logger

	tasks chan Task

	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithBackoff sets the base retry backoff (doubled per attempt).
func WithBackoff(d time.Duration) Option {
	return func(q *Queue) { q.backoff = d }
}

// New creates a queue with the given worker count and default retry budget.
func New(workers, maxRetries int, log *logger.Logger, opts ...Option) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	q := &Queue{
		workers:    workers,
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
		logger:     log,
		tasks:      make(chan Task, 1024),
		timers:     make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the worker pool. Workers run until Stop is called; ctx is
// passed through to every task.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for task := range q.tasks {
				q.process(ctx, task)
				metrics.QueueDepth.Dec()
			}
		}()
	}
}

// Enqueue schedules a task for immediate execution. The send happens under
// the mutex so it can never race the channel close in Stop.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.logger.Warn("queue stopped, dropping task", zap.String("task", task.Name))
		return
	}
	metrics.QueueDepth.Inc()
	q.tasks <- task
}

// EnqueueIn schedules a task after the given delay. Used for the lookup-job
// grace period and for campaign rate spacing.
func (q *Queue) EnqueueIn(delay time.Duration, task Task) {
	if delay <= 0 {
		q.Enqueue(task)
		return
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.Enqueue(task)
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()
}

// Stop cancels pending timers, drains queued tasks and waits for in-flight
// work to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()

	close(q.tasks)
	q.wg.Wait()
}

func (q *Queue) process(ctx context.Context, task Task) {
	maxRetries := q.maxRetries
	if task.MaxRetries > 0 {
		maxRetries = task.MaxRetries
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(q.backoff * time.Duration(1<<(attempt-1)))
		}
		err = q.run(ctx, task)
		if err == nil {
			return
		}
		q.logger.Warn("task failed",
			zap.String("task", task.Name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries+1),
			zap.Error(err),
		)
	}

	q.logger.Error("task failed permanently",
		zap.String("task", task.Name),
		zap.Error(err),
	)
	if task.OnPermanentFailure != nil {
		task.OnPermanentFailure(ctx, err)
	}
}

// run executes the task, converting panics into errors so a misbehaving
// handler cannot take down a worker.
func (q *Queue) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task.Run(ctx)
}

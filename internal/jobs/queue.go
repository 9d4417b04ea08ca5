// Package jobs provides the jobs a flow fans out to and the queue that
// delivers them.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("job queue closed")

// Task is a unit of work submitted by a job.
type Task struct {
	Job       string
	RequestID string
	Run       func(ctx context.Context) error
}

type queuedTask struct {
	ctx  context.Context
	task Task
}

// Queue runs tasks either inline (zero workers) or on a bounded pool of
// workers. Close stops intake and drains what was already accepted.
type Queue struct {
	workers int
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	senders sync.WaitGroup
	tasks   chan queuedTask

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	processed atomic.Int64
	failed    atomic.Int64
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Workers is the number of background workers. Zero runs tasks inline
	// in Submit.
	Workers int
	// Buffer is the number of tasks that may wait for a worker.
	Buffer int
	Logger *slog.Logger
}

// NewQueue creates a queue and starts its workers.
func NewQueue(cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workers: cfg.Workers,
		logger:  logger,
		closing: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		group:   &errgroup.Group{},
	}

	if q.workers > 0 {
		buffer := cfg.Buffer
		if buffer < 0 {
			buffer = 0
		}
		q.tasks = make(chan queuedTask, buffer)
		for i := 0; i < q.workers; i++ {
			q.group.Go(q.work)
		}
	}

	return q
}

// Inline reports whether tasks run synchronously in Submit.
func (q *Queue) Inline() bool {
	return q.workers == 0
}

// Submit runs or enqueues t. Inline queues return the task's error;
// asynchronous queues return once a worker accepted the task, and task
// errors are only logged. No lock is held while the task runs or waits for
// a worker.
func (q *Queue) Submit(ctx context.Context, t Task) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.senders.Add(1)
	q.mu.RUnlock()
	defer q.senders.Done()

	if q.Inline() {
		runCtx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(q.ctx, cancel)
		defer func() {
			stop()
			cancel()
		}()
		return q.run(runCtx, t)
	}

	item := queuedTask{ctx: context.WithoutCancel(ctx), task: t}
	select {
	case q.tasks <- item:
		return nil
	case <-q.closing:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for accepted tasks to finish. If
// ctx expires first, in-flight tasks are cancelled and ctx's error is
// returned without waiting for them.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closing)
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		// Pending senders give up on closing, so tasks is closed with no
		// sender left.
		q.senders.Wait()
		if q.tasks != nil {
			close(q.tasks)
		}
		done <- q.group.Wait()
	}()

	select {
	case err := <-done:
		q.cancel()
		return err
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

// Processed returns how many tasks have run.
func (q *Queue) Processed() int64 { return q.processed.Load() }

// Failed returns how many tasks returned an error.
func (q *Queue) Failed() int64 { return q.failed.Load() }

func (q *Queue) work() error {
	for item := range q.tasks {
		runCtx, cancel := context.WithCancel(item.ctx)
		stop := context.AfterFunc(q.ctx, cancel)
		_ = q.run(runCtx, item.task)
		stop()
		cancel()
	}
	return nil
}

func (q *Queue) run(ctx context.Context, t Task) error {
	err := t.Run(ctx)
	q.processed.Add(1)
	if err != nil {
		q.failed.Add(1)
		q.logger.Warn("job task failed",
			slog.String("job", t.Job),
			slog.String("request_id", t.RequestID),
			slog.String("error", err.Error()),
		)
	}
	return err
}

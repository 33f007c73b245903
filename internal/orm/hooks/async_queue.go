package hooks

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	errQueueNotStarted = errors.New("async queue not started")
	errQueueClosed     = errors.New("async queue closed")
)

// AsyncTask is a unit of work run by the queue
type AsyncTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

// AsyncQueue runs tasks with at most a fixed number in flight. Task
// failures and panics are logged; they never reach the enqueuer.
type AsyncQueue struct {
	workers int
	logger  *zap.Logger
	group   errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc

	// state guards started and closed; Enqueue holds it shared while
	// handing a task to the group
	state   sync.RWMutex
	started bool
	closed  bool
}

// QueueOption configures an AsyncQueue
type QueueOption func(*AsyncQueue)

// WithQueueLogger sets the logger that receives task failures
func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *AsyncQueue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewAsyncQueue creates a queue running up to workers tasks at once (4 when not positive)
func NewAsyncQueue(workers int, opts ...QueueOption) *AsyncQueue {
	if workers <= 0 {
		workers = 4
	}
	q := &AsyncQueue{workers: workers, logger: zap.NewNop()}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.group.SetLimit(workers)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start opens the queue for tasks; later calls do nothing
func (q *AsyncQueue) Start() {
	q.state.Lock()
	q.started = true
	q.state.Unlock()
}

// Enqueue schedules a task, blocking while all workers are busy
func (q *AsyncQueue) Enqueue(task AsyncTask) error {
	q.state.RLock()
	defer q.state.RUnlock()
	switch {
	case !q.started:
		return errQueueNotStarted
	case q.closed, q.ctx.Err() != nil:
		return errQueueClosed
	}
	q.group.Go(func() error {
		q.run(task)
		return nil
	})
	return nil
}

func (q *AsyncQueue) run(task AsyncTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("async task panicked", zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()
	if err := task.Fn(q.ctx); err != nil {
		q.logger.Warn("async task failed", zap.String("task", task.Name), zap.Error(err))
	}
}

// Shutdown refuses new tasks and waits for scheduled ones to finish
func (q *AsyncQueue) Shutdown() {
	q.state.Lock()
	if !q.started || q.closed {
		q.state.Unlock()
		return
	}
	q.closed = true
	q.state.Unlock()
	q.group.Wait()
}

// Stop cancels the context of running tasks and waits for them to return
func (q *AsyncQueue) Stop() {
	q.cancel()
	q.state.Lock()
	q.closed = true
	q.state.Unlock()
	q.group.Wait()
}

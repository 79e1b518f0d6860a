package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrorKindNotificationFailure is recorded for every failed side effect.
const ErrorKindNotificationFailure = "NotificationFailure"

// Task is one side effect run after a committed transition. Failures are
// logged and counted; they never reach the caller that enqueued the task.
type Task struct {
	Kind          string
	ApplicationID string
	Run           func(ctx context.Context) error
}

// Queue is a bounded buffer of side-effect tasks drained by a fixed set of
// workers. Enqueue never blocks: a full or closed queue drops the task.
type Queue struct {
	tasks   chan Task
	workers int
	timeout time.Duration
	logger  *slog.Logger
	errors  ErrorRecorder
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

func WithQueueWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithTaskTimeout bounds a single task run.
func WithTaskTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithQueueErrorRecorder(r ErrorRecorder) QueueOption {
	return func(q *Queue) {
		q.errors = r
	}
}

func WithQueueMetrics(m *Metrics) QueueOption {
	return func(q *Queue) {
		q.metrics = m
	}
}

// NewQueue creates a queue holding at most size pending tasks.
func NewQueue(size int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = 256
	}
	q := &Queue{
		tasks:   make(chan Task, size),
		workers: 4,
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue submits a task without blocking. It reports false when the task was
// dropped because the queue is full or closed.
func (q *Queue) Enqueue(ctx context.Context, task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(ctx, task, "queue closed")
		return false
	}
	select {
	case q.tasks <- task:
		q.metrics.setQueueDepth(len(q.tasks))
		return true
	default:
		q.drop(ctx, task, "queue full")
		return false
	}
}

func (q *Queue) drop(ctx context.Context, task Task, reason string) {
	q.logger.WarnContext(ctx, "side effect dropped",
		"kind", task.Kind,
		"application_id", task.ApplicationID,
		"reason", reason,
	)
	q.metrics.observeSideEffect(task.Kind, "dropped")
	if q.errors != nil {
		q.errors.RecordError(ErrorKindNotificationFailure)
	}
}

// Run drains the queue with the configured number of workers until ctx is
// cancelled or Close was called and every queued task has run.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range q.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case task, ok := <-q.tasks:
					if !ok {
						return nil
					}
					q.metrics.setQueueDepth(len(q.tasks))
					q.execute(ctx, task)
				}
			}
		})
	}
	return g.Wait()
}

// Close stops accepting tasks. Run returns once the remaining tasks finish.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}

func (q *Queue) execute(ctx context.Context, task Task) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = panicError{value: r}
			}
		}()
		return task.Run(ctx)
	}()

	if err != nil {
		q.logger.ErrorContext(ctx, "side effect failed",
			"kind", task.Kind,
			"application_id", task.ApplicationID,
			"error", err,
		)
		q.metrics.observeSideEffect(task.Kind, "failure")
		if q.errors != nil {
			q.errors.RecordError(ErrorKindNotificationFailure)
		}
		return
	}
	q.logger.DebugContext(ctx, "side effect completed",
		"kind", task.Kind,
		"application_id", task.ApplicationID,
	)
	q.metrics.observeSideEffect(task.Kind, "success")
}

type panicError struct{ value any }

func (p panicError) Error() string {
	return fmt.Sprintf("side effect panicked: %v", p.value)
}

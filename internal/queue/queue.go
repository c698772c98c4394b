// ABOUTME: Per-conversation FIFO task queues with at most one in-flight task per key.
// ABOUTME: Unrelated conversation keys run concurrently; a failing task never stalls its queue.

package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Task is a unit of work for one conversation. Errors are the task's own
// business; the queue logs and moves on.
type Task func(ctx context.Context) error

// Queue serializes tasks for a single conversation key. Tasks run strictly in
// enqueue order, one at a time. A task that returns an error or panics does
// not block the tasks behind it.
type Queue struct {
	key    string
	logger *slog.Logger

	mu         sync.Mutex
	pending    []queuedTask
	processing bool
}

// queuedTask pairs a task with the ctx it was enqueued under, so a task
// drained by a goroutine another Enqueue started still runs with its own ctx.
type queuedTask struct {
	ctx  context.Context
	task Task
}

// Enqueue appends task and, if the queue is idle, starts processing it.
func (q *Queue) Enqueue(ctx context.Context, task Task) {
	q.mu.Lock()
	q.pending = append(q.pending, queuedTask{ctx: ctx, task: task})
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	go q.run()
}

// run drains the queue, executing tasks head-first until none remain.
func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.execute(next.ctx, next.task)
	}
}

// execute runs one task, containing errors and panics at the queue boundary.
func (q *Queue) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "key", q.key, "panic", r)
		}
	}()

	if err := task(ctx); err != nil {
		q.logger.Warn("task failed", "key", q.key, "error", err)
	}
}

// Len returns the number of tasks waiting (not counting one in flight).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Registry hands out the queue for each conversation key, creating queues
// lazily on first use. The same key always yields the same instance for the
// registry's lifetime; queues are never evicted since key cardinality matches
// the number of active conversations.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for the default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		queues: make(map[string]*Queue),
		logger: logger.With("component", "queue"),
	}
}

// Get returns the queue for key, creating it if needed.
func (r *Registry) Get(key string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[key]
	if !ok {
		q = &Queue{key: key, logger: r.logger}
		r.queues[key] = q
	}
	return q
}

// Size returns the number of keys with a queue.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

// Package taskrunner implements the Task Runner (C6): a process-wide
// bounded FIFO task queue with priority insertion and bounded retries,
// decoupling delivery and auxiliary side-effects from the decision loop.
package taskrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

// Priority selects FIFO append (Normal) or front-of-queue insertion (High).
type Priority int

const (
	Normal Priority = iota
	High
)

// Handler processes one task's payload.
type Handler func(ctx context.Context, task domain.Task) error

// Future resolves when its task reaches a terminal state.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the task succeeds (nil) or fails terminally (non-nil).
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type entry struct {
	task   domain.Task
	future *Future
}

// Runner is the single-worker, cooperative task queue described in §4.6.
type Runner struct {
	mu       sync.Mutex
	cond     *sync.Cond
	handlers map[domain.TaskKind]Handler
	queue    []*entry
	stopped  bool
	current  *entry
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Runner. Call Run in a goroutine to start processing.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{handlers: make(map[domain.TaskKind]Handler), logger: logger, now: time.Now}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Register installs the handler for a task kind.
func (r *Runner) Register(kind domain.TaskKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Enqueue appends (Normal) or prepends (High) a task. Fails if no handler
// is registered for kind. Returns a Future resolving on terminal success
// or failure.
func (r *Runner) Enqueue(kind domain.TaskKind, payload any, priority Priority, maxAttempts int) (*Future, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[kind]; !ok {
		return nil, fmt.Errorf("taskrunner: no handler registered for kind %q", kind)
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	e := &entry{
		task: domain.Task{
			ID:          uuid.NewString(),
			Kind:        kind,
			Payload:     payload,
			MaxAttempts: maxAttempts,
		},
		future: newFuture(),
	}

	if priority == High {
		r.queue = append([]*entry{e}, r.queue...)
	} else {
		r.queue = append(r.queue, e)
	}
	r.cond.Signal()
	return e.future, nil
}

// Run is the single worker loop; it blocks until ctx is cancelled or
// Shutdown is called.
func (r *Runner) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		r.Shutdown()
	}()

	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.stopped {
			r.cond.Wait()
		}
		if r.stopped && len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		if r.stopped {
			r.discardRemainingLocked()
			r.mu.Unlock()
			return
		}

		e := r.queue[0]
		r.queue = r.queue[1:]
		r.current = e
		r.mu.Unlock()

		e.task.Attempts++
		handler := r.handlerFor(e.task.Kind)
		err := handler(ctx, e.task)

		r.mu.Lock()
		r.current = nil
		if err == nil {
			r.mu.Unlock()
			e.future.resolve(nil)
			continue
		}

		if e.task.Attempts < e.task.MaxAttempts {
			r.mu.Unlock()
			delay := backoff(e.task.Attempts)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			r.mu.Lock()
			if r.stopped {
				r.mu.Unlock()
				e.future.resolve(fmt.Errorf("%w: %v", domain.ErrTaskFailedTerminal, err))
				continue
			}
			r.queue = append([]*entry{e}, r.queue...)
			r.cond.Signal()
			r.mu.Unlock()
			continue
		}

		r.mu.Unlock()
		metrics.TaskFailuresTotal.Inc()
		r.logger.Error("taskrunner: task failed terminally", "task", e.task.ID, "kind", e.task.Kind, "error", err)
		e.future.resolve(fmt.Errorf("%w: %v", domain.ErrTaskFailedTerminal, err))
	}
}

func (r *Runner) handlerFor(kind domain.TaskKind) Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers[kind]
}

// backoff implements min(1s * 2^(attempts-1), 10s).
func backoff(attempts int) time.Duration {
	d := time.Second
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= 10*time.Second {
			return 10 * time.Second
		}
	}
	return d
}

// Shutdown stops accepting new work after the in-flight task completes;
// remaining queued tasks are discarded with their futures rejected.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	r.stopped = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *Runner) discardRemainingLocked() {
	for _, e := range r.queue {
		e.future.resolve(fmt.Errorf("%w: runner shut down", domain.ErrTaskFailedTerminal))
	}
	r.queue = nil
}

// Len reports the number of queued (not in-flight) tasks.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Package queue runs background jobs on a bounded pool of goroutines and
// keeps their results for later lookup.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrClosed is the error of jobs submitted after Close.
	ErrClosed = errors.New("queue: closed")
	// ErrUnknownTask is returned for ids that were never issued or have
	// been evicted.
	ErrUnknownTask = errors.New("queue: unknown task")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusDone || s == StatusFailed
}

// Handle identifies a submitted task.
type Handle struct {
	ID string `json:"task_id"`
}

// Task is a point-in-time view of a submitted job.
type Task[T any] struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Result      T          `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type entry[T any] struct {
	task Task[T]
	err  error
	done chan struct{}
}

// Queue is a bounded worker pool. Submit never blocks: every job gets its
// own goroutine, which waits for one of the worker slots. Jobs run with a
// context detached from the submitter, so a returning HTTP handler or CLI
// command does not cancel them.
type Queue[T any] struct {
	slots  chan struct{}
	retain int

	mu       sync.Mutex
	entries  map[string]*entry[T]
	finished []string
	closed   bool
	wg       sync.WaitGroup
}

// New creates a queue running at most workers jobs at once and keeping
// the last retain finished tasks.
func New[T any](workers, retain int) *Queue[T] {
	if workers <= 0 {
		workers = 1
	}
	if retain <= 0 {
		retain = 1000
	}
	return &Queue[T]{
		slots:   make(chan struct{}, workers),
		retain:  retain,
		entries: make(map[string]*entry[T]),
	}
}

// Submit schedules fn and returns its handle. After Close the task is
// recorded as failed with ErrClosed and fn never runs.
func (q *Queue[T]) Submit(name string, fn func(ctx context.Context) (T, error)) Handle {
	e := &entry[T]{
		task: Task[T]{
			ID:          uuid.NewString(),
			Name:        name,
			Status:      StatusPending,
			SubmittedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}

	q.mu.Lock()
	q.entries[e.task.ID] = e
	if q.closed {
		q.mu.Unlock()
		q.finish(e, *new(T), ErrClosed)
		return Handle{ID: e.task.ID}
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(e, fn)
	return Handle{ID: e.task.ID}
}

func (q *Queue[T]) run(e *entry[T], fn func(ctx context.Context) (T, error)) {
	defer q.wg.Done()

	q.slots <- struct{}{}
	defer func() { <-q.slots }()

	q.mu.Lock()
	now := time.Now().UTC()
	e.task.Status = StatusRunning
	e.task.StartedAt = &now
	q.mu.Unlock()

	result, err := q.call(e.task.Name, fn)
	q.finish(e, result, err)
}

// call runs fn, converting a panic into an error.
func (q *Queue[T]) call(name string, fn func(ctx context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("queue: task panicked", zap.String("task", name), zap.Any("panic", r))
			err = eris.New(fmt.Sprintf("queue: task panicked: %v", r))
		}
	}()
	return fn(context.Background())
}

func (q *Queue[T]) finish(e *entry[T], result T, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	e.task.Result = result
	e.task.FinishedAt = &now
	e.err = err
	if err != nil {
		e.task.Status = StatusFailed
		e.task.Error = err.Error()
	} else {
		e.task.Status = StatusDone
	}
	close(e.done)

	q.finished = append(q.finished, e.task.ID)
	for len(q.finished) > q.retain {
		delete(q.entries, q.finished[0])
		q.finished = q.finished[1:]
	}
}

// Await blocks until the task finishes or ctx ends and returns the job's
// result and error.
func (q *Queue[T]) Await(ctx context.Context, h Handle) (T, error) {
	var zero T
	q.mu.Lock()
	e, ok := q.entries[h.ID]
	q.mu.Unlock()
	if !ok {
		return zero, ErrUnknownTask
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return zero, eris.Wrap(ctx.Err(), "queue: await")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return e.task.Result, e.err
}

// Status returns a snapshot of the task with the given id.
func (q *Queue[T]) Status(id string) (Task[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return Task[T]{}, false
	}
	return e.task, true
}

// Close stops accepting jobs and waits for running and pending ones.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}

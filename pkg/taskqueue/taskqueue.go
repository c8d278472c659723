// Package taskqueue implements the per-source FIFO processor every orbit
// source request (update, query, sync, pull, push) is serialized through:
// at most one task runs at a time, dispatched by kind against a performer
// map supplied by the owning source.
package taskqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrCancelled is the error every task still in the queue (including one in
// flight) settles with when Clear is called.
var ErrCancelled = errors.New("taskqueue: cleared")

// FailurePolicy controls what happens when a performer returns an error.
type FailurePolicy int

const (
	// Skip drops the failed task and immediately dispatches the next one.
	Skip FailurePolicy = iota
	// Retry reports the failure to the task's caller and drops the task, as
	// Skip does; the caller retries by pushing it again. Queue.Retry has no
	// effect under this policy.
	Retry
	// Fail leaves the failed task at the head of the queue, blocking
	// further dispatch until Skip, Retry, or Shift is called.
	Fail
)

// Performer executes one task's work. kind selects the performer from the
// owner's performer map; data is the task's payload.
type Performer func(ctx context.Context, data any) (any, error)

// PersistHook optionally durably records queued (kind, data) pairs so a
// restarted process can resume pending work.
type PersistHook interface {
	Append(taskID, kind string, data any) error
	Remove(taskID string) error
}

// Result is what a task's promise settles with.
type Result struct {
	Value any
	Err   error
}

type task struct {
	id       string
	kind     string
	data     any
	ctx      context.Context
	resultCh chan Result
}

// Queue is a single-source FIFO task processor.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	tasks      []*task
	performers map[string]Performer
	policy     FailurePolicy
	persist    PersistHook
	failedHead *task // set when policy == Fail and the head errored
	closed     bool
}

// New starts a queue dispatching against performers using policy. The
// processing goroutine runs for the lifetime of the queue.
func New(performers map[string]Performer, policy FailurePolicy, persist PersistHook) *Queue {
	q := &Queue{performers: performers, policy: policy, persist: persist}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Push enqueues a task of the given kind and returns a channel that
// receives exactly one Result once the task settles.
func (q *Queue) Push(ctx context.Context, kind string, data any) <-chan Result {
	t := &task{id: uuid.NewString(), kind: kind, data: data, ctx: ctx, resultCh: make(chan Result, 1)}

	q.mu.Lock()
	if q.persist != nil {
		// Best-effort: a persistence failure does not block enqueue.
		_ = q.persist.Append(t.id, kind, data)
	}
	q.tasks = append(q.tasks, t)
	q.cond.Signal()
	q.mu.Unlock()

	return t.resultCh
}

// Len reports the number of tasks waiting or in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Clear rejects every task in the queue with ErrCancelled, including the
// one currently in flight, if any. An in-flight task runs to completion but
// its result is discarded.
func (q *Queue) Clear() {
	q.mu.Lock()
	pending := q.tasks
	q.tasks = nil
	q.failedHead = nil
	q.mu.Unlock()

	for _, t := range pending {
		if q.persist != nil {
			_ = q.persist.Remove(t.id)
		}
		t.resultCh <- Result{Err: ErrCancelled}
	}
}

// Skip drops the head task left in error state under the Fail policy and
// resumes dispatch. It is a no-op if the queue is not in that state.
func (q *Queue) Skip() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failedHead == nil {
		return
	}
	q.failedHead = nil
	if len(q.tasks) > 0 {
		q.tasks = q.tasks[1:]
	}
	q.cond.Signal()
}

// Retry re-invokes the head task left in error state under the Fail
// policy. It is a no-op if the queue is not in that state.
func (q *Queue) Retry() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failedHead == nil {
		return
	}
	q.failedHead = nil
	q.cond.Signal()
}

// Shift drops the head task left in error state under the Fail policy,
// exactly as Skip does. It is a no-op if the queue is not in that state.
func (q *Queue) Shift() {
	q.Skip()
}

// Close stops the processing goroutine once it has no task it can dispatch:
// tasks already queued still run first, unless the head is left in error
// state under the Fail policy.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		for (len(q.tasks) == 0 || q.failedHead != nil) && !q.closed {
			q.cond.Wait()
		}
		if q.closed && (len(q.tasks) == 0 || q.failedHead != nil) {
			q.mu.Unlock()
			return
		}
		if q.failedHead != nil {
			q.mu.Unlock()
			continue
		}
		t := q.tasks[0]
		q.mu.Unlock()

		performer, ok := q.performers[t.kind]
		var result Result
		if !ok {
			result = Result{Err: errors.New("taskqueue: no performer registered for kind " + t.kind)}
		} else {
			value, err := performer(t.ctx, t.data)
			result = Result{Value: value, Err: err}
		}

		q.mu.Lock()
		if len(q.tasks) == 0 || q.tasks[0] != t {
			// Cleared while in flight: the caller already has ErrCancelled.
			q.mu.Unlock()
			continue
		}
		if result.Err != nil && q.policy == Fail {
			q.failedHead = t
			q.mu.Unlock()
			t.resultCh <- result
			continue
		}
		if q.persist != nil {
			_ = q.persist.Remove(t.id)
		}
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		t.resultCh <- result

		if result.Err != nil && q.policy == Retry {
			// The caller observed the failure; it re-enqueues explicitly
			// via Push to retry, matching a caller-driven retry signal.
			continue
		}
	}
}

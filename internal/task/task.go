// Package task implements the coroutine Task abstraction: a cancellable,
// joinable handle to a function body running on a TaskProcessor, plus the
// suspension primitives (internal/task Handle) that body uses to
// cooperatively give up its worker lane.
//
// Go goroutines already provide the free, growable stack a native
// coroutine engine gives every coroutine; this package only needs to add
// admission control
// (internal/taskproc), cancellation, and join/result semantics on top, which
// is what Task[T] and Handle together do. See DESIGN.md for the full
// rationale of substituting goroutines for stackful coroutines.
package task

import (
	"errors"
	"log"
	"sync/atomic"

	"github.com/shuva10v/userver-go/internal/taskproc"
)

// Task is a cancellable, joinable handle to a coroutine running fn's body on
// proc. T is the body's result type; userver's Task<void> is Task[struct{}].
type Task[T any] struct {
	proc     *taskproc.Processor
	handle   *Handle
	critical bool

	status   atomic.Int32
	doneCh   chan struct{}
	value    T
	err      error
	consumed atomic.Bool
	detached atomic.Bool
}

// Go submits fn to proc and returns immediately with a Task handle; fn does
// not start running until a worker lane admits it. critical marks the task
// Critical: it will keep running during a cancelled
// TaskProcessor shutdown and only observes cancellation at explicit
// Handle.Checkpoint calls.
func Go[T any](proc *taskproc.Processor, critical bool, fn func(h *Handle) (T, error)) (*Task[T], error) {
	ticket, err := proc.Schedule(critical)
	if err != nil {
		return nil, err
	}
	t := &Task[T]{
		proc:     proc,
		critical: critical,
		doneCh:   make(chan struct{}),
	}
	t.handle = &Handle{proc: proc, critical: critical, cancelled: newCancelState()}
	t.status.Store(int32(StatusNew))
	go t.run(ticket, fn)
	return t, nil
}

func (t *Task[T]) run(ticket *taskproc.Ticket, fn func(*Handle) (T, error)) {
	<-ticket.Ready()
	t.handle.ticket = ticket
	t.status.Store(int32(StatusRunning))

	val, err := fn(t.handle)
	t.handle.release()

	switch {
	case errors.Is(err, ErrCancelled):
		t.finish(StatusCancelled, val, err)
		t.proc.NoteCancelled()
	case err != nil:
		t.finish(StatusFailed, val, err)
	default:
		t.finish(StatusCompleted, val, nil)
	}
}

func (t *Task[T]) finish(status Status, val T, err error) {
	t.value = val
	t.err = err
	t.status.Store(int32(status))
	close(t.doneCh)

	if t.detached.Load() && err != nil && status == StatusFailed {
		log.Printf("task: detached task failed: %v", err)
	}
}

// IsValid reports whether this Task still owns a live result slot. It
// becomes false once Detach has been called, the idiomatic-Go stand-in for
// a moved-from state in a move-only wrapper type.
func (t *Task[T]) IsValid() bool {
	return !t.detached.Load()
}

// GetStatus returns the task's current lifecycle status.
func (t *Task[T]) GetStatus() Status {
	return Status(t.status.Load())
}

// Wait suspends the calling coroutine (identified by caller) until this
// task reaches a terminal status, freeing caller's worker lane for the
// duration. Returns ErrWrongState if the task was already Detach()'d.
func (t *Task[T]) Wait(caller *Handle) error {
	if !t.IsValid() {
		return ErrWrongState
	}
	select {
	case <-t.doneCh:
		return nil
	default:
	}
	return caller.Suspend(func() { <-t.doneCh })
}

// Get waits for completion (suspending caller) and returns the task's
// result, re-raising its error if it failed or was cancelled. A second call
// returns ErrWrongState even if the first call already returned a non-nil
// error — the result has already been consumed.
func (t *Task[T]) Get(caller *Handle) (T, error) {
	var zero T
	if !t.IsValid() {
		return zero, ErrWrongState
	}
	if err := t.Wait(caller); err != nil {
		return zero, err
	}
	return t.consume()
}

// WaitBlocking is Wait for a caller that is not itself a coroutine — e.g.
// Manager's boot sequence or a test's top-level goroutine — and so holds no
// Handle/worker lane to free. It blocks the calling OS thread directly
// rather than going through a Processor's admission control.
func (t *Task[T]) WaitBlocking() error {
	if !t.IsValid() {
		return ErrWrongState
	}
	<-t.doneCh
	return nil
}

// GetBlocking is Get for a non-coroutine caller; see WaitBlocking.
func (t *Task[T]) GetBlocking() (T, error) {
	var zero T
	if err := t.WaitBlocking(); err != nil {
		return zero, err
	}
	return t.consume()
}

func (t *Task[T]) consume() (T, error) {
	var zero T
	if !t.consumed.CompareAndSwap(false, true) {
		return zero, ErrWrongState
	}
	if t.err != nil {
		return zero, t.err
	}
	return t.value, nil
}

// Detach releases joiner ownership: the task keeps running to completion,
// but no caller may Wait/Get it afterward. A detached task's failure is
// logged and dropped rather than surfaced anywhere.
func (t *Task[T]) Detach() {
	t.detached.Store(true)
}

// RequestCancel delivers a cancellation signal; the task observes it at its
// next suspension point (or, if Critical, at its next explicit Checkpoint).
// Does not block.
func (t *Task[T]) RequestCancel() {
	t.handle.cancelled.trigger()
}

// SyncCancel requests cancellation and suspends caller until the task has
// actually finished.
func (t *Task[T]) SyncCancel(caller *Handle) error {
	t.RequestCancel()
	return t.Wait(caller)
}

// SyncCancelBlocking is SyncCancel for a non-coroutine caller; see
// WaitBlocking.
func (t *Task[T]) SyncCancelBlocking() error {
	t.RequestCancel()
	return t.WaitBlocking()
}

// Done exposes the completion channel directly for callers composing with
// select (e.g. internal/component's Load, which waits on a task and on the
// stall watchdog at once without a dedicated Handle of its own).
func (t *Task[T]) Done() <-chan struct{} {
	return t.doneCh
}

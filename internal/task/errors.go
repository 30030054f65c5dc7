package task

import "errors"

// Sentinel errors surfaced by this package: the error kinds that belong to
// the Task abstraction rather than the component resolver (those live in
// internal/component) or the processor (those live in internal/taskproc,
// e.g. ErrOverloaded).
var (
	// ErrWrongState is returned by Get when the task's result was already
	// consumed, or by Wait/Get on a Task that was detached.
	ErrWrongState = errors.New("task: wrong state")

	// ErrCancelled is observed by a suspension primitive once
	// RequestCancel has been delivered — userver describes this as the
	// task's cooperative cancellation throwing an internal cancellation
	// signal. Go has no stack-unwinding exceptions, so the signal is an
	// ordinary error a task body is expected to propagate, the
	// idiomatic-Go substitute for a thrown cancellation object.
	ErrCancelled = errors.New("task: cancelled")

	// ErrDeadlineExceeded is returned by a suspension primitive that was
	// given a deadline and hit it; unlike ErrCancelled the task is not
	// marked cancelled and keeps running.
	ErrDeadlineExceeded = errors.New("task: deadline exceeded")
)

package module

import (
	"context"
	"errors"
)

// Task is the body of a supervised module. Run performs exactly one cycle
// and should return promptly when ctx is cancelled.
type Task interface {
	Init(ctx context.Context) error
	Run(ctx context.Context) error
}

// Resetter is implemented by tasks that can drop internal state without a
// restart
type Resetter interface {
	Reset() error
}

// Cleaner is implemented by tasks that release resources on Stop
type Cleaner interface {
	Cleanup() error
}

// QueueReporter exposes the size of a task's pending work queue
type QueueReporter interface {
	QueueSize() int
}

// MemoryReporter exposes the bytes held by a task
type MemoryReporter interface {
	MemoryBytes() uint64
}

// TaskFunc adapts a function into a Task with a no-op Init
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Init(context.Context) error   { return nil }
func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

type criticalError struct {
	err error
}

func (e *criticalError) Error() string { return "critical: " + e.err.Error() }
func (e *criticalError) Unwrap() error { return e.err }

// Critical marks err as unrecoverable: the runtime records it, enters the
// Error state and leaves its loop
func Critical(err error) error {
	if err == nil {
		return nil
	}
	return &criticalError{err: err}
}

// IsCritical reports whether err was marked with Critical
func IsCritical(err error) bool {
	var ce *criticalError
	return errors.As(err, &ce)
}

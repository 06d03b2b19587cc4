package fdmux

import (
	"context"
)

// taskContextKey is a unique type used as a key for storing Task
// values in a context.
type taskContextKey struct{}

// withTaskContext creates a new context with the task value stored in
// it. This allows the task to be retrieved from the context later.
func withTaskContext(ctx context.Context, task *Task) context.Context {
	return context.WithValue(ctx, taskContextKey{}, task)
}

// TaskFromContext retrieves the Task a context belongs to. Returns
// the task and a boolean indicating whether one was found.
func TaskFromContext(ctx context.Context) (*Task, bool) {
	val, ok := ctx.Value(taskContextKey{}).(*Task)
	return val, ok
}

// MustTaskFromContext retrieves a Task from a context, panicking if
// not found. This function is useful when the caller expects the
// context to definitely contain a task.
func MustTaskFromContext(ctx context.Context) *Task {
	val, ok := ctx.Value(taskContextKey{}).(*Task)
	if !ok {
		panic("fdmux: task not found in context")
	}
	return val
}

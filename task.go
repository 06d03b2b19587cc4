package fdmux

import (
	"context"
	"fmt"
	"runtime/trace"
	"strings"

	"github.com/webriots/coro"
)

const (
	taskTraceTaskType = "fdmux-loop"
	taskTraceCategory = "fdmux"
)

// Task is a stackful coroutine scheduled by a Loop. A task suspends
// itself with AwaitRead/AwaitWrite and is resumed in place when its
// descriptor becomes ready.
type Task struct {
	loop    *Loop
	ctx     context.Context
	resume  func(Event) (struct{}, bool)
	suspend func() Event
	cancel  func()
	pending *clause // wait in flight, nil when runnable
	ev      Event   // payload delivered by the next resume
	done    bool
}

// clause is the per-wait token handed to the Poller. It implements
// Waiter: the Poller resumes through it on readiness and hooks its
// abort path through OnCancel.
type clause struct {
	task   *Task
	cancel func()
}

func (c *clause) Resume(ev Event) {
	t := c.task
	t.pending = nil
	t.loop.waiting--
	t.loop.ready(t, ev)
}

func (c *clause) OnCancel(fn func()) {
	c.cancel = fn
}

func newTask(l *Loop, fn func(context.Context, *Task)) *Task {
	t := &Task{loop: l}

	resume, cancel := coro.New(
		func(_ func(struct{}) Event, suspend func() Event) (z struct{}) {
			t.suspend = suspend

			t.ctx = withTaskContext(l.ctx, t)
			fn(t.ctx, t)

			return
		},
	)

	t.resume = resume
	t.cancel = cancel
	return t
}

// run resumes the task with ev and retires it once its function
// returns.
func (t *Task) run(ev Event) {
	t.Log("RUN")

	if _, ok := t.resume(ev); ok {
		return
	}

	t.done = true
	t.loop.tasks--
}

// AwaitRead suspends the task until fd is readable, returning the
// readiness bits observed. Registration errors (ErrBadDescriptor,
// ErrBusy, ErrUnsupportedDescriptor, kernel errors) are returned
// without suspending.
func (t *Task) AwaitRead(fd int) (Event, error) {
	return t.await(fd, Readable)
}

// AwaitWrite suspends the task until fd is writable, with the same
// contract as AwaitRead.
func (t *Task) AwaitWrite(fd int) (Event, error) {
	return t.await(fd, Writable)
}

func (t *Task) await(fd int, dir Event) (Event, error) {
	t.Logf("AWAIT %v fd=%d", dir, fd)

	c := &clause{task: t}
	var err error
	if dir == Readable {
		err = t.loop.poller.WaitRead(c, fd)
	} else {
		err = t.loop.poller.WaitWrite(c, fd)
	}
	if err != nil {
		return 0, err
	}

	t.pending = c
	t.loop.waiting++
	return t.suspend(), nil
}

// Yield reschedules the task behind everything currently runnable.
func (t *Task) Yield() {
	t.Log("YIELD")
	t.loop.ready(t, 0)
	t.suspend()
}

// Stop aborts the task. If it is suspended on a descriptor, the
// Poller's cancel hook runs inline first, leaving the slot free for
// a new waiter before Stop returns. Stopping a finished task is a
// no-op. A task must not stop itself.
func (t *Task) Stop() {
	if t.done {
		return
	}
	t.Log("STOP")

	if c := t.pending; c != nil {
		t.pending = nil
		t.loop.waiting--
		if c.cancel != nil {
			c.cancel()
		}
	}

	t.done = true
	t.loop.tasks--
	t.cancel()
}

// Log emits msg to the execution tracer when tracing is enabled.
func (t *Task) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%p ", t)
		sb.WriteString(msg)
		trace.Log(t.loop.ctx, taskTraceCategory, sb.String())
	}
}

// Logf is Log with formatting.
func (t *Task) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%p ", t)
		fmt.Fprintf(&sb, format, args...)
		trace.Log(t.loop.ctx, taskTraceCategory, sb.String())
	}
}

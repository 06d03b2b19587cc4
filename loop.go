package fdmux

import (
	"context"
	"runtime/trace"

	"github.com/gammazero/deque"
)

// Loop schedules Tasks over one Poller. Runnable tasks are drained
// in FIFO order; when none remain and some wait on a descriptor, the
// loop polls. Everything runs on the caller's goroutine.
type Loop struct {
	noCopy  noCopy
	poller  *Poller
	ctx     context.Context
	runq    deque.Deque[*Task]
	tasks   int // live tasks
	waiting int // tasks suspended on descriptor readiness
}

// NewLoop creates a Loop whose Poller is sized for descriptor values
// in [0, maxFDs).
func NewLoop(maxFDs int) (*Loop, error) {
	p, err := New(maxFDs)
	if err != nil {
		return nil, err
	}
	return &Loop{poller: p, ctx: context.Background()}, nil
}

// Poller exposes the underlying multiplexer, e.g. to Clean a
// descriptor before handing its number back to the OS.
func (l *Loop) Poller() *Poller {
	return l.poller
}

// Go creates a task that will run fn and queues it. Tasks may be
// created before Run or from inside other tasks.
func (l *Loop) Go(fn func(context.Context, *Task)) *Task {
	t := newTask(l, fn)
	l.tasks++
	l.runq.PushBack(t)
	return t
}

// ready queues t to be resumed with ev. Stopped tasks are dropped.
func (l *Loop) ready(t *Task, ev Event) {
	if t.done {
		return
	}
	t.ev = ev
	l.runq.PushBack(t)
}

// Run drives the loop until every task has finished. Poll waits
// interrupted by signals are retried. Run panics if live tasks
// remain but none is runnable or waiting on a descriptor; that is a
// deadlock among the loop's own tasks.
func (l *Loop) Run(ctx context.Context) {
	var tracer *trace.Task
	l.ctx, tracer = trace.NewTask(ctx, taskTraceTaskType)
	defer tracer.End()

	trace.Log(l.ctx, taskTraceCategory, "RUN")

	for l.tasks > 0 {
		for l.runq.Len() > 0 {
			t := l.runq.PopFront()
			if t.done {
				continue
			}
			ev := t.ev
			t.ev = 0
			t.run(ev)
		}

		if l.tasks == 0 {
			break
		}
		if l.runq.Len() > 0 {
			continue
		}
		if l.waiting == 0 {
			panic("fdmux: all tasks blocked")
		}

		trace.Logf(l.ctx, taskTraceCategory, "POLL waiting=%d", l.waiting)
		for l.poller.Poll(-1) == Interrupted {
		}
	}

	trace.Log(l.ctx, taskTraceCategory, "RUN DONE")
}

// Close releases the Loop's Poller. Call after Run has returned.
func (l *Loop) Close() {
	l.poller.Close()
}

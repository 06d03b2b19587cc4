package fdmux

import "github.com/gammazero/deque"

// sema queues tasks waiting for a wakeup and hands each release
// directly to the task at the front. It backs Mutex and WaitGroup;
// availability bookkeeping lives in those types.
type sema struct {
	noCopy noCopy             // Prevents copying of the semaphore
	w      deque.Deque[*Task] // Waiting tasks queue
}

// acquire suspends the task until a matching release.
func (s *sema) acquire(t *Task) {
	s.w.PushBack(t)
	t.suspend()
}

// release resumes the task at the front of the queue in place, if
// any. Stopped tasks still sitting in the queue are skipped.
func (s *sema) release() {
	for s.w.Len() > 0 {
		task := s.w.PopFront()
		if task.done {
			continue
		}
		task.run(0)
		return
	}
}

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package fdmux

import "golang.org/x/sys/unix"

// kqueueQueue implements eventQueue on the BSDs. kqueue registers
// read and write interest as separate filters, so interest changes
// become per-filter EV_ADD/EV_DELETE pairs.
type kqueueQueue struct {
	kq     int
	events []unix.Kevent_t
}

func newEventQueue() (eventQueue, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueueQueue{kq: kq}, nil
}

func (q *kqueueQueue) change(fd int, filter, flags int) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, flags)
	_, err := unix.Kevent(q.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (q *kqueueQueue) add(fd int, ev Event) error {
	return q.update(fd, 0, ev)
}

func (q *kqueueQueue) mod(fd int, old, new Event) error {
	return q.update(fd, old, new)
}

// update applies the per-filter delta between old and new interest.
func (q *kqueueQueue) update(fd int, old, new Event) error {
	if d := new &^ old; d&Readable != 0 {
		if err := q.change(fd, unix.EVFILT_READ, unix.EV_ADD); err != nil {
			return err
		}
	} else if d := old &^ new; d&Readable != 0 {
		if err := q.change(fd, unix.EVFILT_READ, unix.EV_DELETE); err != nil && err != unix.ENOENT {
			return err
		}
	}
	if d := new &^ old; d&Writable != 0 {
		if err := q.change(fd, unix.EVFILT_WRITE, unix.EV_ADD); err != nil {
			return err
		}
	} else if d := old &^ new; d&Writable != 0 {
		if err := q.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE); err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

// del drops whatever filters remain for fd. The Poller does not say
// which are registered, so both are attempted and absence ignored.
func (q *kqueueQueue) del(fd int) error {
	if err := q.change(fd, unix.EVFILT_READ, unix.EV_DELETE); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return err
	}
	if err := q.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return err
	}
	return nil
}

func (q *kqueueQueue) wait(ready []readyEvent, timeoutMs int) (int, error) {
	if len(q.events) < len(ready) {
		q.events = make([]unix.Kevent_t, len(ready))
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(q.kq, nil, q.events[:len(ready)], ts)
	if err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		e := &q.events[i]
		var ev Event
		switch e.Filter {
		case unix.EVFILT_READ:
			ev = Readable
		case unix.EVFILT_WRITE:
			ev = Writable
		}
		ready[i] = readyEvent{fd: int(e.Ident), ev: ev}
	}
	return n, nil
}

func (q *kqueueQueue) close() error {
	return unix.Close(q.kq)
}

//go:build linux

package fdmux

import "golang.org/x/sys/unix"

// epollQueue implements eventQueue on Linux. Registrations are
// level-triggered: the poll cycle relies on being called again for
// events it had no batch space for, which edge triggering would
// swallow.
type epollQueue struct {
	epfd   int
	events []unix.EpollEvent
}

func newEventQueue() (eventQueue, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollQueue{epfd: epfd}, nil
}

func epollBits(ev Event) uint32 {
	var bits uint32
	if ev&Readable != 0 {
		bits |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev&Writable != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

func (q *epollQueue) ctl(op, fd int, ev Event) error {
	e := unix.EpollEvent{
		Events: epollBits(ev),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(q.epfd, op, fd, &e)
}

func (q *epollQueue) add(fd int, ev Event) error {
	return q.ctl(unix.EPOLL_CTL_ADD, fd, ev)
}

func (q *epollQueue) mod(fd int, _, new Event) error {
	return q.ctl(unix.EPOLL_CTL_MOD, fd, new)
}

func (q *epollQueue) del(fd int) error {
	return unix.EpollCtl(q.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (q *epollQueue) wait(ready []readyEvent, timeoutMs int) (int, error) {
	if len(q.events) < len(ready) {
		q.events = make([]unix.EpollEvent, len(ready))
	}
	if timeoutMs < 0 {
		timeoutMs = -1
	}

	n, err := unix.EpollWait(q.epfd, q.events[:len(ready)], timeoutMs)
	if err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		e := &q.events[i]
		var ev Event
		if e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ev |= Readable
		}
		if e.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ev |= Writable
		}
		ready[i] = readyEvent{fd: int(e.Fd), ev: ev}
	}
	return n, nil
}

func (q *epollQueue) close() error {
	return unix.Close(q.epfd)
}

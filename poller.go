package fdmux

import (
	"strconv"

	"golang.org/x/sys/unix"
)

const (
	// pollBatch defines the maximum number of kernel events received
	// per poll cycle. More pending events surface on the next cycle.
	pollBatch = 128
)

// Changelist link encoding for slot.next and Poller.dirty. The zero
// value means a slot is not on the changelist, so a zeroed slot table
// starts with an empty list. On-list slots store the successor's
// index plus one, or endOfList at the tail.
const (
	unlinked  int32 = 0
	endOfList int32 = -1
)

// slot caches the kernel registration state of one descriptor
// number. Slots live as long as the Poller and are reused across
// many actual descriptors over the life of the process.
type slot struct {
	reader Waiter // at most one waiter per direction
	writer Waiter
	events Event // interest currently registered with the kernel
	next   int32 // changelist link
	cached bool  // whether the kernel knows this descriptor at all
}

// want derives the interest the kernel registration should converge
// to from the waiters currently present.
func (s *slot) want() Event {
	var ev Event
	if s.reader != nil {
		ev |= Readable
	}
	if s.writer != nil {
		ev |= Writable
	}
	return ev
}

// Poller is an fd-readiness multiplexer. It tracks one slot per
// possible descriptor number, defers registration changes on a
// changelist, and flushes them in batch at the start of each Poll.
//
// A Poller is single-threaded by construction: the registration
// calls and Poll must be interleaved on one logical thread of
// control, never run concurrently.
type Poller struct {
	noCopy noCopy
	q      eventQueue
	slots  []slot
	dirty  int32 // changelist head
	ready  [pollBatch]readyEvent
}

// New creates a Poller sized for descriptor values in [0, maxFDs).
// The kernel event queue's creation error, if any, is returned
// as-is.
func New(maxFDs int) (*Poller, error) {
	q, err := newEventQueue()
	if err != nil {
		return nil, err
	}
	return newPoller(q, maxFDs), nil
}

func newPoller(q eventQueue, maxFDs int) *Poller {
	return &Poller{
		q:     q,
		slots: make([]slot, maxFDs),
		dirty: endOfList,
	}
}

// Close releases the kernel event queue and drops the slot table.
// The caller guarantees no waiters are outstanding. A close failure
// here means the queue resource was corrupted out-of-band, so Close
// panics rather than returning it.
func (p *Poller) Close() {
	if err := p.q.close(); err != nil {
		panic("fdmux: close event queue: " + err.Error())
	}
	p.slots = nil
	p.dirty = endOfList
}

// WaitRead registers w as the single read waiter on fd. No kernel
// call is made unless this is the descriptor's first use; the
// registration change is deferred to the next Poll.
func (p *Poller) WaitRead(w Waiter, fd int) error {
	return p.wait(w, fd, Readable)
}

// WaitWrite registers w as the single write waiter on fd, with the
// same deferral as WaitRead.
func (p *Poller) WaitWrite(w Waiter, fd int) error {
	return p.wait(w, fd, Writable)
}

func (p *Poller) wait(w Waiter, fd int, dir Event) error {
	if fd < 0 || fd >= len(p.slots) {
		return ErrBadDescriptor
	}

	s := &p.slots[fd]
	if !s.cached {
		// First use: register eagerly with exactly the requested
		// interest. This doubles as the capability probe; some
		// descriptor kinds cannot be multiplexed at all.
		if err := p.q.add(fd, dir); err != nil {
			if err == unix.EPERM || err == unix.ELOOP {
				return ErrUnsupportedDescriptor
			}
			return err
		}
		*s = slot{events: dir, cached: true}
	}

	if dir == Readable && s.reader != nil {
		return ErrBusy
	}
	if dir == Writable && s.writer != nil {
		return ErrBusy
	}

	p.push(fd)
	if dir == Readable {
		s.reader = w
	} else {
		s.writer = w
	}

	w.OnCancel(func() {
		s := &p.slots[fd]
		if dir == Readable {
			s.reader = nil
		} else {
			s.writer = nil
		}
		// Desired interest shrank; reconcile on the next cycle.
		p.push(fd)
	})
	return nil
}

// Clean forgets fd entirely so its number can be reused. It fails
// with ErrBusy while either direction has a waiter. Cleaning a
// descriptor the Poller never saw is a no-op.
func (p *Poller) Clean(fd int) error {
	if fd < 0 || fd >= len(p.slots) {
		return ErrBadDescriptor
	}

	s := &p.slots[fd]
	if !s.cached {
		return nil
	}
	if s.reader != nil || s.writer != nil {
		return ErrBusy
	}

	if s.events != 0 {
		// The kernel may have dropped the registration on its own
		// when the descriptor was closed; absence is fine.
		if err := p.q.del(fd); err != nil && err != unix.ENOENT && err != unix.EBADF {
			panic("fdmux: clean fd " + strconv.Itoa(fd) + ": " + err.Error())
		}
	}
	p.unlink(fd)
	*s = slot{}
	return nil
}

// push puts fd on the changelist unless it is already there.
func (p *Poller) push(fd int) {
	s := &p.slots[fd]
	if s.next != unlinked {
		return
	}
	s.next = p.dirty
	p.dirty = int32(fd) + 1
}

// unlink removes fd from the changelist if present. The list is
// walked from the head; it is normally near-empty between cycles.
func (p *Poller) unlink(fd int) {
	s := &p.slots[fd]
	if s.next == unlinked {
		return
	}

	link := int32(fd) + 1
	if p.dirty == link {
		p.dirty = s.next
	} else {
		for i := p.dirty; i != endOfList; {
			t := &p.slots[i-1]
			if t.next == link {
				t.next = s.next
				break
			}
			i = t.next
		}
	}
	s.next = unlinked
}

// Poll runs one multiplexing cycle: flush the changelist into the
// kernel, block up to timeoutMs (negative blocks forever) for a
// batch of events, and resume the matching waiters. Registrations
// made while waiters are dispatched take effect no earlier than the
// next cycle.
func (p *Poller) Poll(timeoutMs int) Outcome {
	p.reconcile()

	n, err := p.q.wait(p.ready[:], timeoutMs)
	if err == unix.EINTR {
		return Interrupted
	}
	if err != nil {
		// The queue is presumed correctly constructed; a wait
		// failure indicates a broken precondition elsewhere.
		panic("fdmux: wait for events: " + err.Error())
	}
	if n == 0 {
		return Idle
	}

	for _, e := range p.ready[:n] {
		p.dispatch(e.fd, e.ev)
	}
	return Progress
}

// reconcile drains the changelist, converging each dirty slot's
// kernel registration to its desired interest. Kernel update calls
// are bounded by the number of descriptors touched since the last
// cycle, not by the number of registration calls made.
func (p *Poller) reconcile() {
	for p.dirty != endOfList {
		fd := int(p.dirty) - 1
		s := &p.slots[fd]
		p.dirty, s.next = s.next, unlinked

		want := s.want()
		if want == s.events {
			continue
		}

		var err error
		switch {
		case want == 0:
			err = p.q.del(fd)
			if err == unix.ENOENT || err == unix.EBADF {
				err = nil
			}
		case s.events == 0:
			err = p.q.add(fd, want)
		default:
			err = p.q.mod(fd, s.events, want)
		}
		if err != nil {
			panic("fdmux: update registration for fd " + strconv.Itoa(fd) + ": " + err.Error())
		}
		s.events = want
	}
}

// dispatch resumes the waiters matching one kernel event and, if the
// slot's desired interest shrank as a result, re-dirties it so the
// next cycle narrows the kernel registration. Without that, an fd
// nobody waits on anymore would wake every Poll.
func (p *Poller) dispatch(fd int, ev Event) {
	if fd < 0 || fd >= len(p.slots) {
		return
	}
	s := &p.slots[fd]
	if !s.cached {
		return
	}

	if ev&Readable != 0 && s.reader != nil {
		w := s.reader
		s.reader = nil
		w.Resume(ev)
	}
	if ev&Writable != 0 && s.writer != nil {
		w := s.writer
		s.writer = nil
		w.Resume(ev)
	}

	if s.want() != s.events {
		p.push(fd)
	}
}
package fdmux

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeQueue counts kernel update calls and serves canned events, so
// tests can assert how many registration syscalls a sequence of API
// calls would have cost.
type fakeQueue struct {
	adds, mods, dels int
	registered       map[int]Event
	pending          []readyEvent
	addErr           error
	waitErr          error
	closed           bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{registered: make(map[int]Event)}
}

func (q *fakeQueue) add(fd int, ev Event) error {
	if q.addErr != nil {
		err := q.addErr
		q.addErr = nil
		return err
	}
	q.adds++
	q.registered[fd] = ev
	return nil
}

func (q *fakeQueue) mod(fd int, _, new Event) error {
	q.mods++
	q.registered[fd] = new
	return nil
}

func (q *fakeQueue) del(fd int) error {
	q.dels++
	if _, ok := q.registered[fd]; !ok {
		return unix.ENOENT
	}
	delete(q.registered, fd)
	return nil
}

func (q *fakeQueue) wait(ready []readyEvent, _ int) (int, error) {
	if q.waitErr != nil {
		err := q.waitErr
		q.waitErr = nil
		return 0, err
	}
	n := copy(ready, q.pending)
	q.pending = q.pending[n:]
	return n, nil
}

func (q *fakeQueue) close() error {
	q.closed = true
	return nil
}

// waiter records resumptions and exposes the cancel hook the Poller
// registered, standing in for the external wait mechanism.
type waiter struct {
	resumed []Event
	cancel  func()
}

func (w *waiter) Resume(ev Event)    { w.resumed = append(w.resumed, ev) }
func (w *waiter) OnCancel(fn func()) { w.cancel = fn }

// changelist walks the intrusive list from the head and returns the
// descriptor numbers on it, in list order.
func changelist(p *Poller) []int {
	var fds []int
	for i := p.dirty; i != endOfList; i = p.slots[i-1].next {
		fds = append(fds, int(i-1))
	}
	return fds
}

func TestCleanUnknownNoop(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 16)

	for fd := 0; fd < 16; fd++ {
		r.NoError(p.Clean(fd))
	}
	r.Zero(q.dels)
}

func TestBadDescriptor(t *testing.T) {
	r := require.New(t)

	p := newPoller(newFakeQueue(), 8)

	r.ErrorIs(p.WaitRead(new(waiter), -1), ErrBadDescriptor)
	r.ErrorIs(p.WaitRead(new(waiter), 8), ErrBadDescriptor)
	r.ErrorIs(p.WaitWrite(new(waiter), 8), ErrBadDescriptor)
	r.ErrorIs(p.Clean(-1), ErrBadDescriptor)
	r.ErrorIs(p.Clean(8), ErrBadDescriptor)
}

func TestSingleWaiterPerDirection(t *testing.T) {
	r := require.New(t)

	p := newPoller(newFakeQueue(), 8)

	r.NoError(p.WaitRead(new(waiter), 3))
	r.ErrorIs(p.WaitRead(new(waiter), 3), ErrBusy)

	r.NoError(p.WaitWrite(new(waiter), 3))
	r.ErrorIs(p.WaitWrite(new(waiter), 3), ErrBusy)
}

func TestDeferredBatching(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	// First use registers eagerly as the capability probe.
	w1 := new(waiter)
	r.NoError(p.WaitRead(w1, 5))
	r.Equal(1, q.adds)

	// Cancel and re-register before any poll: the net desired state
	// equals the cached registration, so the cycle costs zero
	// further kernel calls.
	w1.cancel()
	w2 := new(waiter)
	r.NoError(p.WaitRead(w2, 5))

	r.Equal(Idle, p.Poll(0))
	r.Equal(1, q.adds)
	r.Zero(q.mods)
	r.Zero(q.dels)
	r.Equal(Readable, q.registered[5])
}

func TestReconcileLifecycle(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	rd := new(waiter)
	wr := new(waiter)
	r.NoError(p.WaitRead(rd, 2))
	r.Equal(1, q.adds)

	// Widening to read+write is deferred until the next cycle.
	r.NoError(p.WaitWrite(wr, 2))
	r.Equal(1, q.adds)
	r.Zero(q.mods)
	r.Equal(Idle, p.Poll(0))
	r.Equal(1, q.mods)
	r.Equal(Readable|Writable, q.registered[2])

	// Cancelling the writer narrows back on the following cycle.
	wr.cancel()
	r.Equal(Idle, p.Poll(0))
	r.Equal(2, q.mods)
	r.Equal(Readable, q.registered[2])

	// Cancelling the reader empties the interest: a delete, with the
	// slot still cached so the next wait skips the probe.
	rd.cancel()
	r.Equal(Idle, p.Poll(0))
	r.Equal(1, q.dels)
	r.NotContains(q.registered, 2)
	r.True(p.slots[2].cached)

	// Re-waiting on the cached-but-empty slot is an add, not a probe
	// (the probe path would have reset the waiter references).
	r.NoError(p.WaitRead(new(waiter), 2))
	r.Equal(1, q.adds)
	r.Equal(Idle, p.Poll(0))
	r.Equal(2, q.adds)
	r.Equal(Readable, q.registered[2])
}

func TestDispatchResumesAndClears(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	w := new(waiter)
	r.NoError(p.WaitRead(w, 4))
	r.Equal(Idle, p.Poll(0))

	q.pending = []readyEvent{{fd: 4, ev: Readable}}
	r.Equal(Progress, p.Poll(0))
	r.Equal([]Event{Readable}, w.resumed)

	// The direction is free again, and the slot is back on the
	// changelist so the next cycle narrows the registration.
	r.Equal([]int{4}, changelist(p))
	r.NoError(p.WaitRead(new(waiter), 4))

	// The re-registration restored the desired interest, so the next
	// cycle costs nothing.
	adds, mods, dels := q.adds, q.mods, q.dels
	r.Equal(Idle, p.Poll(0))
	r.Equal(adds, q.adds)
	r.Equal(mods, q.mods)
	r.Equal(dels, q.dels)
}

func TestDispatchErrorWakesBothDirections(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	rd := new(waiter)
	wr := new(waiter)
	r.NoError(p.WaitRead(rd, 6))
	r.NoError(p.WaitWrite(wr, 6))
	r.Equal(Idle, p.Poll(0))

	// Error and hangup conditions arrive folded into both bits.
	q.pending = []readyEvent{{fd: 6, ev: Readable | Writable}}
	r.Equal(Progress, p.Poll(0))
	r.Equal([]Event{Readable | Writable}, rd.resumed)
	r.Equal([]Event{Readable | Writable}, wr.resumed)
}

func TestStaleEventFindsNoWaiter(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	w := new(waiter)
	r.NoError(p.WaitRead(w, 1))
	w.cancel()

	// The event raced the cancellation: still Progress (a batch was
	// received), but nobody is resumed.
	q.pending = []readyEvent{{fd: 1, ev: Readable}, {fd: 7, ev: Writable}}
	r.Equal(Progress, p.Poll(0))
	r.Empty(w.resumed)
}

func TestCleanBusyThenForgets(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	w := new(waiter)
	r.NoError(p.WaitRead(w, 3))
	r.ErrorIs(p.Clean(3), ErrBusy)

	q.pending = []readyEvent{{fd: 3, ev: Readable}}
	r.Equal(Progress, p.Poll(0))

	r.NoError(p.Clean(3))
	r.Equal(1, q.dels)
	r.False(p.slots[3].cached)
	r.Empty(changelist(p))

	// Subsequent wait behaves as first use: the probe runs again.
	r.NoError(p.WaitRead(new(waiter), 3))
	r.Equal(2, q.adds)
}

func TestCleanUnlinksMidList(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	ws := make([]*waiter, 4)
	for _, fd := range []int{1, 2, 3} {
		ws[fd] = new(waiter)
		r.NoError(p.WaitRead(ws[fd], fd))
	}
	r.Equal([]int{3, 2, 1}, changelist(p))

	ws[2].cancel()
	r.NoError(p.Clean(2))
	r.Equal([]int{3, 1}, changelist(p))

	ws[3].cancel()
	r.NoError(p.Clean(3))
	r.Equal([]int{1}, changelist(p))

	ws[1].cancel()
	r.NoError(p.Clean(1))
	r.Empty(changelist(p))
}

func TestChangelistNoDuplicates(t *testing.T) {
	r := require.New(t)

	p := newPoller(newFakeQueue(), 8)

	w := new(waiter)
	r.NoError(p.WaitRead(w, 5))
	r.NoError(p.WaitWrite(new(waiter), 5))
	w.cancel()
	r.Equal([]int{5}, changelist(p))
}

func TestUnsupportedDescriptorProbe(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	q.addErr = unix.EPERM
	r.ErrorIs(p.WaitRead(new(waiter), 4), ErrUnsupportedDescriptor)
	r.False(p.slots[4].cached)

	q.addErr = unix.ELOOP
	r.ErrorIs(p.WaitWrite(new(waiter), 4), ErrUnsupportedDescriptor)
	r.False(p.slots[4].cached)

	// Other probe failures pass through untranslated.
	q.addErr = unix.ENOMEM
	r.ErrorIs(p.WaitRead(new(waiter), 4), unix.ENOMEM)

	// The slot stayed unknown, so a later wait probes again.
	r.NoError(p.WaitRead(new(waiter), 4))
	r.True(p.slots[4].cached)
}

func TestPollInterrupted(t *testing.T) {
	r := require.New(t)

	q := newFakeQueue()
	p := newPoller(q, 8)

	q.waitErr = unix.EINTR
	r.Equal(Interrupted, p.Poll(-1))
	r.Equal(Idle, p.Poll(0))
}

func TestIndependentPollers(t *testing.T) {
	r := require.New(t)

	q1 := newFakeQueue()
	q2 := newFakeQueue()
	p1 := newPoller(q1, 8)
	p2 := newPoller(q2, 8)

	r.NoError(p1.WaitRead(new(waiter), 5))
	r.NoError(p2.WaitRead(new(waiter), 5))
	r.Equal(1, q1.adds)
	r.Equal(1, q2.adds)

	p1.Close()
	r.True(q1.closed)
	r.False(q2.closed)
}

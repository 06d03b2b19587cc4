package fdmux

// Event is a bit set of descriptor readiness directions.
type Event uint32

const (
	// Readable indicates the descriptor can be read without
	// blocking. Error and hangup conditions are folded into
	// Readable, so a waiter always observes them.
	Readable Event = 1 << iota
	// Writable indicates the descriptor can be written without
	// blocking. Error and hangup conditions are folded into
	// Writable as well.
	Writable
)

// String returns "r", "w", "rw", or "none".
func (ev Event) String() string {
	switch ev & (Readable | Writable) {
	case Readable:
		return "r"
	case Writable:
		return "w"
	case Readable | Writable:
		return "rw"
	}
	return "none"
}

// Outcome reports what a Poll call accomplished.
type Outcome int

const (
	// Idle means the wait timed out with no events.
	Idle Outcome = iota
	// Progress means at least one event batch was received. It is a
	// scheduling hint only; an event may have found no waiter.
	Progress
	// Interrupted means the wait was cut short by signal delivery.
	// It is control flow, not an error; callers retry.
	Interrupted
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Idle:
		return "idle"
	case Progress:
		return "progress"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// readyEvent is one demultiplexed kernel event.
type readyEvent struct {
	fd int
	ev Event
}

// eventQueue abstracts the kernel readiness facility. Exactly one
// implementation exists per platform, plus a counting fake in tests.
type eventQueue interface {
	// add registers fd with the given interest. The first add for a
	// descriptor doubles as a capability probe; the kernel rejects
	// descriptor kinds it cannot multiplex.
	add(fd int, ev Event) error
	// mod changes the registered interest from old to new.
	mod(fd int, old, new Event) error
	// del removes fd from the queue entirely.
	del(fd int) error
	// wait blocks up to timeoutMs (negative means forever) and fills
	// ready with demultiplexed events, returning how many.
	wait(ready []readyEvent, timeoutMs int) (int, error)
	// close releases the kernel queue resource.
	close() error
}

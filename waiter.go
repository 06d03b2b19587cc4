package fdmux

// Waiter is the Poller's view of one suspended wait. The waiting
// unit of execution owns the value; the Poller only keeps a
// back-reference so it knows who to resume. A Waiter is used for a
// single wait and must not be shared across descriptors or
// directions.
type Waiter interface {
	// Resume wakes the waiter. ev carries the readiness bits
	// observed for its direction; error and hangup conditions arrive
	// folded into the direction bit.
	Resume(ev Event)

	// OnCancel registers fn to run if the wait is aborted before an
	// event fires. The external wait mechanism must invoke fn inline
	// during cancellation: fn restores the Poller's bookkeeping for
	// the abandoned slot before returning.
	OnCancel(fn func())
}

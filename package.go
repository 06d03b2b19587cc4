// Package fdmux multiplexes file-descriptor readiness for
// cooperative coroutine scheduling. It caches kernel registration
// state per descriptor, batches registration updates into a
// changelist flushed once per poll cycle, and resumes exactly the
// waiters whose events fired.
//
// Key components:
//
//   - Poller: The core multiplexer. It owns the per-fd slot table,
//     the changelist, and the kernel event queue (epoll on Linux,
//     kqueue on the BSDs). WaitRead/WaitWrite register a waiter for
//     one direction of one descriptor, Clean forgets a descriptor,
//     and Poll reconciles pending registrations, blocks for events,
//     and dispatches wakeups.
//
//   - Waiter: The interface a suspended unit of execution presents to
//     the Poller: how to resume it, and how to hook its cancellation.
//
//   - Loop/Task: A reference embedding. Tasks are stackful coroutines
//     that suspend on AwaitRead/AwaitWrite; the Loop drains runnable
//     tasks and polls while any of them wait on a descriptor.
//
//   - Synchronization primitives: Mutex and WaitGroup for
//     coordination between tasks on the same Loop.
package fdmux

package fdmux

import "errors"

var (
	// ErrBadDescriptor reports a descriptor outside the range the
	// Poller was sized for.
	ErrBadDescriptor = errors.New("fdmux: descriptor out of range")

	// ErrUnsupportedDescriptor reports a descriptor kind the kernel
	// facility cannot multiplex, such as a regular file under epoll.
	ErrUnsupportedDescriptor = errors.New("fdmux: descriptor kind not supported")

	// ErrBusy reports a direction that already has a waiter, or a
	// Clean attempted while either direction has one.
	ErrBusy = errors.New("fdmux: descriptor busy")
)

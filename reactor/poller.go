package reactor

import "greactor/config"

// Poller demultiplexes readiness across the fds registered by a
// single EventLoop. It never owns Channels, only reflects their
// current interest into the kernel.
type Poller interface {
	// Poll blocks for up to timeoutMs and appends every channel that
	// became ready to active, returning the timestamp the call
	// returned at.
	Poll(timeoutMs int, active *[]*Channel) (Timestamp, error)
	UpdateChannel(ch *Channel)
	RemoveChannel(ch *Channel)
	HasChannel(ch *Channel) bool
	Close() error
}

// newDefaultPoller picks the readiness backend. Absent the
// POLLER_USE_POLL environment variable (or any unrecognized value),
// the epoll-based adapter is used; setting it truthy selects the
// unix.Poll-based adapter instead. This is the only place the
// environment is consulted for poller selection.
func newDefaultPoller(loop *EventLoop) (Poller, error) {
	if config.Bool("POLLER_USE_POLL", false) {
		return newPollPoller(loop)
	}
	return newEpollPoller(loop)
}

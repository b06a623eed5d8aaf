package reactor

import (
	"errors"

	"greactor/logging"

	"golang.org/x/sys/unix"
)

const initEventListSize = 16

// epollPoller is the default Poller, backed by epoll(7). The state
// tag on each Channel tracks whether the kernel currently knows about
// the fd, so updateChannel can pick ADD/MOD/DEL without asking the
// kernel first:
//
//	New     --updateChannel, interest--> Added   (EPOLL_CTL_ADD)
//	Added   --updateChannel, no interest--> Deleted (EPOLL_CTL_DEL, stays in map)
//	Deleted --updateChannel, interest--> Added   (EPOLL_CTL_ADD)
//	Added   --removeChannel--> New (EPOLL_CTL_DEL, removed from map)
//	Deleted --removeChannel--> New (removed from map, no kernel op)
type epollPoller struct {
	loop     *EventLoop
	epollFd  int
	channels map[int]*Channel
	events   []unix.EpollEvent
}

func newEpollPoller(loop *EventLoop) (*epollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		loop:     loop,
		epollFd:  fd,
		channels: make(map[int]*Channel),
		events:   make([]unix.EpollEvent, initEventListSize),
	}, nil
}

func (p *epollPoller) Poll(timeoutMs int, active *[]*Channel) (Timestamp, error) {
	n, err := unix.EpollWait(p.epollFd, p.events, timeoutMs)
	now := Now()
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return now, nil
		}
		logging.Error("[epollPoller] epoll_wait error: %v", err)
		return now, err
	}
	for i := 0; i < n; i++ {
		ch := p.channels[int(p.events[i].Fd)]
		if ch == nil {
			continue
		}
		ch.SetRevents(int32(p.events[i].Events))
		*active = append(*active, ch)
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return now, nil
}

func (p *epollPoller) UpdateChannel(ch *Channel) {
	switch ch.State() {
	case stateNew, stateDeleted:
		if ch.State() == stateNew {
			p.channels[ch.Fd()] = ch
		}
		ch.SetState(stateAdded)
		p.ctl(unix.EPOLL_CTL_ADD, ch)
	default: // stateAdded
		if ch.IsNoneEvent() {
			p.ctl(unix.EPOLL_CTL_DEL, ch)
			ch.SetState(stateDeleted)
		} else {
			p.ctl(unix.EPOLL_CTL_MOD, ch)
		}
	}
}

func (p *epollPoller) RemoveChannel(ch *Channel) {
	delete(p.channels, ch.Fd())
	if ch.State() == stateAdded {
		p.ctl(unix.EPOLL_CTL_DEL, ch)
	}
	ch.SetState(stateNew)
}

func (p *epollPoller) HasChannel(ch *Channel) bool {
	found, ok := p.channels[ch.Fd()]
	return ok && found == ch
}

func (p *epollPoller) Close() error { return unix.Close(p.epollFd) }

func (p *epollPoller) ctl(op int, ch *Channel) {
	ev := unix.EpollEvent{Events: uint32(ch.Events()), Fd: int32(ch.Fd())}
	if err := unix.EpollCtl(p.epollFd, op, ch.Fd(), &ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			logging.Debug("[epollPoller] epoll_ctl DEL on fd=%d: %v", ch.Fd(), err)
			return
		}
		logging.Fatalf("[epollPoller] epoll_ctl op=%d fd=%d: %v", op, ch.Fd(), err)
	}
}

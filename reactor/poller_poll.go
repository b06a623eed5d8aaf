package reactor

import (
	"errors"

	"greactor/logging"

	"golang.org/x/sys/unix"
)

// pollPoller is the alternative readiness backend selected by setting
// POLLER_USE_POLL. It keeps the exact same state-tag contract as
// epollPoller but scans a flat []unix.PollFd each iteration instead of
// letting the kernel maintain an interest set, trading O(1)
// registration for an O(n) wait — acceptable for the modest fd counts
// a single worker loop typically owns, and a real second backend
// rather than a stub that only exists to exercise the config switch.
type pollPoller struct {
	loop     *EventLoop
	channels map[int]*Channel
	fds      []unix.PollFd
}

func newPollPoller(loop *EventLoop) (*pollPoller, error) {
	return &pollPoller{
		loop:     loop,
		channels: make(map[int]*Channel),
	}, nil
}

func (p *pollPoller) Poll(timeoutMs int, active *[]*Channel) (Timestamp, error) {
	n, err := unix.Poll(p.fds, timeoutMs)
	now := Now()
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return now, nil
		}
		logging.Error("[pollPoller] poll error: %v", err)
		return now, err
	}
	if n <= 0 {
		return now, nil
	}
	for i := range p.fds {
		if p.fds[i].Revents == 0 {
			continue
		}
		ch := p.channels[int(p.fds[i].Fd)]
		if ch == nil {
			continue
		}
		ch.SetRevents(int32(p.fds[i].Revents))
		*active = append(*active, ch)
	}
	return now, nil
}

func (p *pollPoller) UpdateChannel(ch *Channel) {
	switch ch.State() {
	case stateNew:
		p.channels[ch.Fd()] = ch
		ch.SetState(stateAdded)
		p.fds = append(p.fds, unix.PollFd{Fd: int32(ch.Fd()), Events: int16(ch.Events())})
	case stateDeleted:
		ch.SetState(stateAdded)
		p.setEvents(ch)
	default: // stateAdded
		if ch.IsNoneEvent() {
			p.setEvents(ch)
			ch.SetState(stateDeleted)
		} else {
			p.setEvents(ch)
		}
	}
}

func (p *pollPoller) setEvents(ch *Channel) {
	for i := range p.fds {
		if int(p.fds[i].Fd) == ch.Fd() {
			p.fds[i].Events = int16(ch.Events())
			return
		}
	}
}

func (p *pollPoller) RemoveChannel(ch *Channel) {
	delete(p.channels, ch.Fd())
	for i := range p.fds {
		if int(p.fds[i].Fd) == ch.Fd() {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			break
		}
	}
	ch.SetState(stateNew)
}

func (p *pollPoller) HasChannel(ch *Channel) bool {
	found, ok := p.channels[ch.Fd()]
	return ok && found == ch
}

func (p *pollPoller) Close() error { return nil }

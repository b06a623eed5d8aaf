package reactor

import (
	"greactor/logging"

	"golang.org/x/sys/unix"
)

// pollerState mirrors the EPollPoller state tag: a Channel is present
// in the poller's fd map iff its state is added or deleted.
type pollerState int

const (
	stateNew pollerState = iota
	stateAdded
	stateDeleted
)

const (
	eventNone  = 0
	eventRead  = unix.EPOLLIN | unix.EPOLLPRI
	eventWrite = unix.EPOLLOUT
)

// Channel binds one fd to its current event interest and callback set
// within a single EventLoop. A Channel may be mutated only from its
// owner loop's goroutine.
type Channel struct {
	loop   *EventLoop
	fd     int
	events int32
	revent int32
	state  pollerState

	readCallback  func(Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()

	tieArmed bool
	tieFunc  func() (interface{}, bool)
}

func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, events: eventNone, state: stateNew}
}

func (c *Channel) Fd() int          { return c.fd }
func (c *Channel) Events() int32    { return c.events }
func (c *Channel) SetRevents(r int32) { c.revent = r }
func (c *Channel) State() pollerState { return c.state }
func (c *Channel) SetState(s pollerState) { c.state = s }
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

func (c *Channel) SetReadCallback(cb func(Timestamp)) { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb func())         { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb func())         { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb func())         { c.errorCallback = cb }

// Tie arms a weak back-reference to the channel's logical owner. The
// upgrade closure returns (owner, true) while the owner is alive and
// (nil, false) after it has torn itself down; dispatch aborts cleanly
// on the latter rather than chasing a dangling object. Go has no
// built-in weak pointer usable here, so "weak" is enforced by
// convention: upgrade must itself consult state the owner clears on
// teardown (TcpConnection does this via its atomic State), not by
// keeping the owner alive through this closure's capture.
func (c *Channel) Tie(upgrade func() (interface{}, bool)) {
	c.tieFunc = upgrade
	c.tieArmed = true
}

func (c *Channel) EnableReading() { c.events |= eventRead; c.update() }
func (c *Channel) DisableReading() { c.events &^= eventRead; c.update() }
func (c *Channel) EnableWriting() { c.events |= eventWrite; c.update() }
func (c *Channel) DisableWriting() { c.events &^= eventWrite; c.update() }
func (c *Channel) DisableAll()     { c.events = eventNone; c.update() }

func (c *Channel) IsNoneEvent() bool { return c.events == eventNone }
func (c *Channel) IsWriting() bool   { return c.events&eventWrite != 0 }
func (c *Channel) IsReading() bool   { return c.events&eventRead != 0 }

func (c *Channel) update() { c.loop.updateChannel(c) }

// Remove unregisters the channel from its owner loop. Idempotent:
// calling it twice is permitted, matching the poller state machine
// where Deleted->remove is a no-op kernel-side.
func (c *Channel) Remove() { c.loop.removeChannel(c) }

// HandleEvent dispatches revents in the fixed order required by the
// spec: hang-up (without readable data) is terminal and checked
// first, then error, then read, then write.
func (c *Channel) HandleEvent(ts Timestamp) {
	if c.tieArmed {
		owner, ok := c.tieFunc()
		if !ok {
			logging.Debug("[Channel] tie expired, dropping event fd=%d", c.fd)
			return
		}
		_ = owner
	}
	c.handleEventWithGuard(ts)
}

func (c *Channel) handleEventWithGuard(ts Timestamp) {
	if c.revent&unix.EPOLLHUP != 0 && c.revent&unix.EPOLLIN == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
		return
	}
	if c.revent&unix.EPOLLERR != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revent&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		if c.readCallback != nil {
			c.readCallback(ts)
		}
	}
	if c.revent&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

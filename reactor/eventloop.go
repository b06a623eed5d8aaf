package reactor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"greactor/logging"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

const pollTimeoutMs = 10000

// EventLoop drives the poll -> dispatch -> pending-task cycle for
// exactly one goroutine, which must first call runtime.LockOSThread
// so that goroutine identity and OS-thread identity coincide for the
// loop's lifetime (see current_thread.go). Every mutating operation on
// the loop either runs on that goroutine or is deferred through
// RunInLoop/QueueInLoop.
type EventLoop struct {
	tid     int64
	looping atomic.Bool
	quit    atomic.Bool

	poller Poller

	wakeupFd      int
	wakeupChannel *Channel

	activeChannels []*Channel

	mu                     sync.Mutex
	pending                *queue.Queue
	callingPendingFunctors atomic.Bool

	pollReturnTime Timestamp
}

// NewEventLoop constructs a loop on the calling goroutine. A second
// construction on the same (locked) OS thread is a programmer error:
// it is fatal, exactly as a second muduo EventLoop in one thread.
func NewEventLoop() *EventLoop {
	tid := currentGoroutineID()

	wakeupFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		logging.Fatalf("[EventLoop] eventfd failed: %v", err)
	}

	loop := &EventLoop{
		tid:      tid,
		wakeupFd: wakeupFd,
		pending:  queue.New(),
	}

	poller, err := newDefaultPoller(loop)
	if err != nil {
		logging.Fatalf("[EventLoop] poller creation failed: %v", err)
	}
	loop.poller = poller

	globalLoopRegistry.register(tid, loop)

	loop.wakeupChannel = NewChannel(loop, wakeupFd)
	loop.wakeupChannel.SetReadCallback(func(Timestamp) { loop.handleWakeupRead() })
	loop.wakeupChannel.EnableReading()

	logging.Debug("[EventLoop] created @%p", loop)
	return loop
}

func (l *EventLoop) Close() {
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	_ = l.poller.Close()
	_ = unix.Close(l.wakeupFd)
	globalLoopRegistry.unregister(l.tid)
}

// IsInLoopThread reports whether the calling goroutine is the one
// that constructed this loop.
func (l *EventLoop) IsInLoopThread() bool { return currentGoroutineID() == l.tid }

// AssertInLoopThread is fatal if called from any goroutine but the
// one that owns this loop — the same invariant muduo enforces with
// assertInLoopThread at the top of every loop-confined method.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		logging.Fatalf("[EventLoop] operation called from a non-owning goroutine, tid=%d owner=%d", currentGoroutineID(), l.tid)
	}
}

func (l *EventLoop) PollReturnTime() Timestamp { return l.pollReturnTime }

// Loop runs the reactor until Quit is called. Must be invoked from
// the owning goroutine.
func (l *EventLoop) Loop() {
	if !l.IsInLoopThread() {
		logging.Fatalf("[EventLoop] Loop() called from a foreign goroutine")
	}
	l.looping.Store(true)
	logging.Debug("[EventLoop] starting loop @%p", l)

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		ts, err := l.poller.Poll(pollTimeoutMs, &l.activeChannels)
		if err != nil {
			// already logged by the poller; keep looping rather than
			// tearing down the reactor over a transient poll error.
		}
		l.pollReturnTime = ts

		for _, ch := range l.activeChannels {
			ch.HandleEvent(ts)
		}
		l.doPendingFunctors()
	}

	l.looping.Store(false)
	logging.Debug("[EventLoop] stopped loop @%p", l)
}

// Quit requests the loop to stop after its current iteration. Safe to
// call from any goroutine; idempotent. A Quit issued before Loop
// starts makes Loop return without polling.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop executes f on the loop's goroutine: synchronously if
// already there, otherwise queued.
func (l *EventLoop) RunInLoop(f func()) {
	if l.IsInLoopThread() {
		f()
	} else {
		l.QueueInLoop(f)
	}
}

// QueueInLoop defers f to the next pending-task phase. The loop is
// woken if the caller isn't on the loop's goroutine, or if it is but
// the loop is itself mid-way through running pending tasks — the
// latter case matters because a task that enqueues another task must
// not starve waiting for the next full poll timeout.
func (l *EventLoop) QueueInLoop(f func()) {
	l.mu.Lock()
	l.pending.Add(f)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPendingFunctors.Load() {
		l.wakeup()
	}
}

func (l *EventLoop) doPendingFunctors() {
	l.callingPendingFunctors.Store(true)

	l.mu.Lock()
	local := l.pending
	l.pending = queue.New()
	l.mu.Unlock()

	for local.Length() > 0 {
		f := local.Remove().(func())
		f()
	}

	l.callingPendingFunctors.Store(false)
}

func (l *EventLoop) updateChannel(ch *Channel) { l.poller.UpdateChannel(ch) }
func (l *EventLoop) removeChannel(ch *Channel) { l.poller.RemoveChannel(ch) }

func (l *EventLoop) HasChannel(ch *Channel) bool { return l.poller.HasChannel(ch) }

func (l *EventLoop) handleWakeupRead() {
	var buf [8]byte
	n, err := unix.Read(l.wakeupFd, buf[:])
	if err != nil || n != 8 {
		logging.Error("[EventLoop] wakeup read %d bytes (expected 8): %v", n, err)
	}
}

func (l *EventLoop) wakeup() {
	one := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	n, err := unix.Write(l.wakeupFd, one[:])
	if err != nil || n != 8 {
		logging.Error("[EventLoop] wakeup write %d bytes (expected 8): %v", n, err)
	}
}

// lockToOSThread is called by LoopThread before constructing a loop so
// the goroutine identity current_thread.go relies on is pinned to a
// single OS thread for the loop's lifetime.
func lockToOSThread() { runtime.LockOSThread() }

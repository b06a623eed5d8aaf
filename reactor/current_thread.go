package reactor

import (
	"sync"

	"github.com/petermattis/goid"
	"greactor/logging"
)

// currentGoroutineID returns a stable identity for the calling
// goroutine. Go has no portable thread-local storage, so this stands
// in for muduo's CurrentThread::tid(): a value that is constant for
// the lifetime of the goroutine that constructed an EventLoop, letting
// every other operation assert it is running on the right one.
func currentGoroutineID() int64 {
	return goid.Get()
}

// loopRegistry enforces "at most one loop per OS thread" the way
// muduo's __thread pointer does, using a per-goroutine map instead of
// real thread-local storage (see spec's design notes: "In a language
// without thread-locals, use a per-thread registry with the same
// semantics"). A goroutine is expected to call LockOSThread before
// constructing its loop, so goroutine identity and OS-thread identity
// coincide for as long as the loop runs.
type loopRegistry struct {
	mu    sync.Mutex
	byTid map[int64]*EventLoop
}

var globalLoopRegistry = &loopRegistry{byTid: make(map[int64]*EventLoop)}

func (r *loopRegistry) register(tid int64, loop *EventLoop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.byTid[tid]; existing != nil {
		logging.Fatalf("[EventLoop] another loop %p already exists on this thread (tid=%d)", existing, tid)
	}
	r.byTid[tid] = loop
}

func (r *loopRegistry) unregister(tid int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTid, tid)
}

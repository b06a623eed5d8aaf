package reactor

import "sync"

// LoopThread starts an EventLoop on a dedicated goroutine pinned to
// its own OS thread and hands the loop pointer back to the caller
// once it's running.
type LoopThread struct {
	mu   sync.Mutex
	cond *sync.Cond
	loop *EventLoop
	name string
	cb   func(*EventLoop)
	done chan struct{}
}

func NewLoopThread(cb func(*EventLoop), name string) *LoopThread {
	t := &LoopThread{name: name, cb: cb, done: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop spawns the goroutine, blocks until its EventLoop is
// constructed and published, and returns it.
func (t *LoopThread) StartLoop() *EventLoop {
	go t.threadFunc()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()
	return loop
}

func (t *LoopThread) threadFunc() {
	lockToOSThread()

	loop := NewEventLoop()
	if t.cb != nil {
		t.cb(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
	t.cond.Signal()

	loop.Loop()
	loop.Close()
	close(t.done)
}

// Stop signals the owned loop to quit and waits for its goroutine to
// return.
func (t *LoopThread) Stop() {
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop != nil {
		loop.Quit()
	}
	<-t.done
}

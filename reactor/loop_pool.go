package reactor

import (
	"fmt"
	"sync/atomic"
)

// LoopPool hands out worker loops by round-robin. With a worker count
// of zero (the default), the base loop also serves I/O — there is no
// separate pool of goroutines at all.
type LoopPool struct {
	baseLoop   *EventLoop
	name       string
	numThreads int
	next       atomic.Uint64
	threads    []*LoopThread
	loops      []*EventLoop
	started    atomic.Bool
}

func NewLoopPool(baseLoop *EventLoop, name string) *LoopPool {
	return &LoopPool{baseLoop: baseLoop, name: name}
}

func (p *LoopPool) SetThreadNum(n int) { p.numThreads = n }

// Start spawns numThreads LoopThreads, each running cb (if non-nil) as
// its per-thread init callback once the loop exists but before it
// starts looping. With numThreads == 0, cb (if any) runs against the
// base loop instead, since that loop will be doing the I/O.
func (p *LoopPool) Start(cb func(*EventLoop)) {
	p.started.Store(true)

	for i := 0; i < p.numThreads; i++ {
		name := fmt.Sprintf("%s%d", p.name, i)
		th := NewLoopThread(cb, name)
		p.threads = append(p.threads, th)
		p.loops = append(p.loops, th.StartLoop())
	}

	if p.numThreads == 0 && cb != nil {
		cb(p.baseLoop)
	}
}

// GetNextLoop returns the base loop when there are no workers,
// otherwise the next worker in round-robin order.
func (p *LoopPool) GetNextLoop() *EventLoop {
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	idx := p.next.Add(1) - 1
	return p.loops[idx%uint64(len(p.loops))]
}

// GetAllLoops returns every worker loop, or just the base loop when
// there are no workers — useful for an embedder that wants to
// broadcast a task to every loop the pool manages.
func (p *LoopPool) GetAllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return p.loops
}

func (p *LoopPool) Started() bool { return p.started.Load() }
func (p *LoopPool) Name() string  { return p.name }

// Stop joins every worker thread. Only meaningful when numThreads > 0;
// with the base loop serving I/O the caller owns its shutdown.
func (p *LoopPool) Stop() {
	for _, th := range p.threads {
		th.Stop()
	}
}

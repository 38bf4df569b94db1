package dispatch

import (
	"sync"

	"github.com/chazu/tether/guard"
	"github.com/chazu/tether/host"
	"github.com/chazu/tether/memory"
)

// ---------------------------------------------------------------------------
// Pool: a bounded FIFO task queue plus its worker contexts
// ---------------------------------------------------------------------------

// A Pool feeds a bounded FIFO queue into a set of worker goroutines sharing
// one scheduling affinity. Tasks are dequeued in submission order; the queue
// never exceeds its configured bound, excess submissions wait or are
// reported Busy, never dropped.
type Pool struct {
	affinity  Affinity
	host      host.Runtime
	wake      func(WakeToken)
	slabSlots int

	queue   chan *task
	mu      sync.RWMutex // write-held only while closing the queue
	closed  bool
	workers sync.WaitGroup
}

func newPool(affinity Affinity, h host.Runtime, wake func(WakeToken), queueCapacity, workers, slabSlots int) *Pool {
	p := &Pool{
		affinity:  affinity,
		host:      h,
		wake:      wake,
		slabSlots: slabSlots,
		queue:     make(chan *task, queueCapacity),
	}
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.work()
	}
	return p
}

// Affinity returns the pool's scheduling affinity.
func (p *Pool) Affinity() Affinity {
	return p.affinity
}

// submit enqueues a task, waiting for a free slot when the queue is full.
func (p *Pool) submit(t *task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.queue <- t
	return nil
}

// trySubmit enqueues a task or reports ErrBusy when the queue is full.
func (p *Pool) trySubmit(t *task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return ErrBusy
	}
}

// close stops intake, drains the queue, and waits for the workers. Already
// enqueued tasks still run; work is never silently dropped.
func (p *Pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.workers.Wait()
}

// work is one worker context: it drains the queue until closed, running each
// task in its own adopted context with its own frame stack.
func (p *Pool) work() {
	defer p.workers.Done()
	for t := range p.queue {
		p.run(t)
	}
}

// run executes a single task. The worker registers itself with the host as a
// schedulable unit for the duration of the task, establishes a task-local
// frame stack, and runs the body behind the guard boundary so neither host
// exceptions nor native panics escape the worker. References escaping
// through the outcome move to a handle-held root before the task frame
// pops; they are never left unrooted between completion and retrieval.
func (p *Pool) run(t *task) {
	stack := memory.NewFrameStack()
	token := p.host.AdoptContext(stack)

	t.state.Store(int32(TaskRunning))
	var res guard.Result
	_ = stack.EnterScope(p.slabSlots, func(sc *memory.Scope) error {
		res = guard.CallIn(sc, func() host.Ref {
			return t.fn(sc)
		})
		t.retain(p.host, res)
		return nil
	})
	p.host.ReleaseContext(token)
	t.complete(res)

	if t.wake != 0 {
		// Completion is signalled from host-scheduled code, matching the
		// protocol a blocked native waiter expects.
		wake := t.wake
		p.host.Schedule(func() { p.wake(wake) })
	}
}

// PoolStats is a point-in-time description of one pool.
type PoolStats struct {
	Affinity      Affinity
	QueueLength   int
	QueueCapacity int
}

// stats reports the pool's current queue depth.
func (p *Pool) stats() PoolStats {
	return PoolStats{
		Affinity:      p.affinity,
		QueueLength:   len(p.queue),
		QueueCapacity: cap(p.queue),
	}
}

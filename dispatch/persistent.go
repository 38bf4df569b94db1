package dispatch

import (
	"fmt"
	"sync"

	"github.com/chazu/tether/guard"
	"github.com/chazu/tether/host"
	"github.com/chazu/tether/memory"
)

// ---------------------------------------------------------------------------
// Persistent tasks: state that survives across invocations
// ---------------------------------------------------------------------------

// PersistentInit runs once on the persistent worker and produces the state
// value. The state is rooted in the worker's long-lived frame, so it stays
// alive across invocations until the handle is closed.
type PersistentInit func(*memory.Scope) host.Ref

// PersistentFunc is one invocation of a persistent task. It receives a
// per-call scope plus the rooted state produced by the initializer.
type PersistentFunc func(*memory.Scope, memory.RootedValue) host.Ref

type persistentCall struct {
	fn PersistentFunc
	t  *task
}

// A PersistentHandle owns one persistent worker: a dedicated execution
// context, adopted by the host for its whole lifetime, with its own frame
// stack whose bottom frame roots the state. Calls are serviced strictly in
// submission order.
type PersistentHandle struct {
	calls     chan *persistentCall
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	slabSlots int
}

// MakePersistent starts a persistent worker on the given affinity's queue
// dimensions and runs init on it. It returns once the initializer has
// completed; an initializer that raises or panics fails the creation.
func (d *Dispatcher) MakePersistent(affinity Affinity, init PersistentInit) (*PersistentHandle, error) {
	p := d.pool(affinity) // dimensions only; the worker is dedicated
	ph := &PersistentHandle{
		calls:     make(chan *persistentCall, cap(p.queue)),
		done:      make(chan struct{}),
		slabSlots: p.slabSlots,
	}

	ready := make(chan error, 1)
	go ph.work(d.host, d.Wake, init, ready)
	if err := <-ready; err != nil {
		return nil, fmt.Errorf("dispatch: persistent init failed: %w", err)
	}

	d.persistMu.Lock()
	d.persist = append(d.persist, ph)
	d.persistMu.Unlock()
	return ph, nil
}

// work is the persistent worker: one adopted context, one frame stack, one
// outer scope that lives until the handle closes.
func (ph *PersistentHandle) work(h host.Runtime, wake func(WakeToken), init PersistentInit, ready chan<- error) {
	defer close(ph.done)

	stack := memory.NewFrameStack()
	token := h.AdoptContext(stack)
	defer h.ReleaseContext(token)

	_ = stack.EnterScope(ph.slabSlots, func(outer *memory.Scope) error {
		res := guard.Call(func() host.Ref {
			return init(outer)
		})
		if res.Kind() != guard.OK {
			ready <- resultError(res)
			return nil
		}
		state := outer.RootHere(res.Value())
		ready <- nil

		for call := range ph.calls {
			ph.run(call, stack, state, h, wake)
		}
		return nil
	})
}

// run services one invocation in a nested scope; the state stays rooted in
// the outer frame regardless of what the call does. As with pool tasks,
// references escaping through the outcome move to a handle-held root before
// the call's frame pops.
func (ph *PersistentHandle) run(call *persistentCall, stack *memory.FrameStack, state memory.RootedValue, h host.Runtime, wake func(WakeToken)) {
	call.t.state.Store(int32(TaskRunning))
	var res guard.Result
	_ = stack.EnterScope(ph.slabSlots, func(sc *memory.Scope) error {
		res = guard.CallIn(sc, func() host.Ref {
			return call.fn(sc, state)
		})
		call.t.retain(h, res)
		return nil
	})
	call.t.complete(res)

	if call.t.wake != 0 {
		tok := call.t.wake
		h.Schedule(func() { wake(tok) })
	}
}

// Call submits one invocation, waiting for a queue slot when full.
func (ph *PersistentHandle) Call(fn PersistentFunc, opts ...SubmitOption) (*TaskHandle, error) {
	return ph.call(fn, opts, true)
}

// TryCall submits like Call but returns ErrBusy when the queue is full.
func (ph *PersistentHandle) TryCall(fn PersistentFunc, opts ...SubmitOption) (*TaskHandle, error) {
	return ph.call(fn, opts, false)
}

func (ph *PersistentHandle) call(fn PersistentFunc, opts []SubmitOption, wait bool) (*TaskHandle, error) {
	t := newTask(nil, 0)
	for _, opt := range opts {
		opt(t)
	}

	ph.mu.RLock()
	defer ph.mu.RUnlock()
	if ph.closed {
		return nil, ErrClosed
	}
	c := &persistentCall{fn: fn, t: t}
	if wait {
		ph.calls <- c
	} else {
		select {
		case ph.calls <- c:
		default:
			return nil, ErrBusy
		}
	}
	return &TaskHandle{t: t}, nil
}

// Close stops intake, lets queued invocations finish, and tears down the
// worker's frame stack and adopted context. The rooted state becomes
// collectible afterwards.
func (ph *PersistentHandle) Close() {
	ph.mu.Lock()
	if ph.closed {
		ph.mu.Unlock()
		return
	}
	ph.closed = true
	close(ph.calls)
	ph.mu.Unlock()
	<-ph.done
}

// resultError converts a non-OK guarded outcome into an error for interfaces
// that report failure natively. The worker's frames are gone by the time the
// creator sees the error, so a thrown value is reduced to its message; only
// the message is stable past that point.
func resultError(res guard.Result) error {
	if thrown := res.Thrown(); thrown != nil {
		return &host.Thrown{Message: thrown.Message}
	}
	return res.Panicked()
}

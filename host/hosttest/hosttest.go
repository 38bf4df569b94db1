// Package hosttest provides a simulated host runtime for testing the rooting
// protocol, the dispatcher, and the guard boundary without linking a real
// embedded runtime. The simulation keeps a heap of cells, scans the root
// sources of adopted contexts on demand, and invalidates everything it cannot
// reach, so a missing root shows up as a hard failure instead of silent
// corruption.
package hosttest

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/chazu/tether/host"
)

// cell is one allocated host value.
type cell struct {
	data any
	dead bool
}

// Host is an in-memory stand-in for the embedded runtime.
type Host struct {
	mu      sync.Mutex
	heap    map[host.Ref]*cell
	globals map[string]host.Ref
	adopted map[host.ContextToken]host.RootSource
	nextRef uintptr
	nextTok atomic.Uint64

	collections atomic.Int64
	scheduled   sync.WaitGroup
}

// New creates an empty simulated host.
func New() *Host {
	return &Host{
		heap:    make(map[host.Ref]*cell),
		globals: make(map[string]host.Ref),
		adopted: make(map[host.ContextToken]host.RootSource),
		nextRef: 8, // reference zero is the absent value
	}
}

// AdoptContext registers a native context's roots for scanning.
func (h *Host) AdoptContext(roots host.RootSource) host.ContextToken {
	token := host.ContextToken(h.nextTok.Add(1))
	h.mu.Lock()
	h.adopted[token] = roots
	h.mu.Unlock()
	return token
}

// ReleaseContext drops a context's roots from the scan set.
func (h *Host) ReleaseContext(token host.ContextToken) {
	h.mu.Lock()
	delete(h.adopted, token)
	h.mu.Unlock()
}

// New allocates a host value holding the given payload.
func (h *Host) New(data any) host.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref := host.Ref(h.nextRef)
	h.nextRef += 8
	h.heap[ref] = &cell{data: data}
	return ref
}

// Deref returns the payload of a live value. Panics on a collected or
// unknown reference; hitting this in a test means a root was missing.
func (h *Host) Deref(ref host.Ref) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.heap[ref]
	if !ok {
		panic(fmt.Sprintf("hosttest: deref of unknown ref %#x", uintptr(ref)))
	}
	if c.dead {
		panic(fmt.Sprintf("hosttest: use after collect of ref %#x", uintptr(ref)))
	}
	return c.data
}

// Alive reports whether a reference survived all collections so far.
func (h *Host) Alive(ref host.Ref) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.heap[ref]
	return ok && !c.dead
}

// Global looks up a root-namespace binding.
func (h *Host) Global(name string) host.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.globals[name]
}

// SetGlobal installs a root-namespace binding. Globals are part of the root
// set for Collect.
func (h *Host) SetGlobal(name string, ref host.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.globals[name] = ref
}

// HostFunc is the payload type of callable host values.
type HostFunc func(h *Host, args []host.Ref) host.Ref

// NewFunc allocates a callable host value.
func (h *Host) NewFunc(fn HostFunc) host.Ref {
	return h.New(fn)
}

// Call invokes a callable host value. A callee that panics with *host.Thrown
// models a raised host exception; anything else is left to propagate.
func (h *Host) Call(fn host.Ref, args ...host.Ref) host.Ref {
	data := h.Deref(fn)
	callee, ok := data.(HostFunc)
	if !ok {
		h.Throw(fmt.Sprintf("value %#x is not callable", uintptr(fn)))
	}
	return callee(h, args)
}

// Throw raises a host exception carrying a fresh host value as payload.
func (h *Host) Throw(message string) {
	panic(&host.Thrown{Value: h.New(message), Message: message})
}

// Schedule runs a closure as host-scheduled work, off the caller's context.
func (h *Host) Schedule(fn func()) {
	h.scheduled.Add(1)
	go func() {
		defer h.scheduled.Done()
		fn()
	}()
}

// Yield offers a scheduling point.
func (h *Host) Yield() {
	runtime.Gosched()
}

// DrainScheduled blocks until all host-scheduled closures have finished.
func (h *Host) DrainScheduled() {
	h.scheduled.Wait()
}

// Collect marks everything reachable from adopted contexts and globals and
// invalidates the rest. The caller is responsible for invoking it only at a
// point where no adopted context is mid-push; tests call it from the owning
// goroutine, which is exactly the safepoint discipline the real collector
// imposes.
func (h *Host) Collect() int {
	h.mu.Lock()
	sources := make([]host.RootSource, 0, len(h.adopted))
	for _, s := range h.adopted {
		sources = append(sources, s)
	}
	globals := make([]host.Ref, 0, len(h.globals))
	for _, g := range h.globals {
		globals = append(globals, g)
	}
	h.mu.Unlock()

	marked := make(map[host.Ref]bool)
	mark := func(r host.Ref) {
		if !r.IsNil() {
			marked[r] = true
		}
	}
	for _, s := range sources {
		s.VisitRoots(mark)
	}
	for _, g := range globals {
		mark(g)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	swept := 0
	for ref, c := range h.heap {
		if !c.dead && !marked[ref] {
			c.dead = true
			swept++
		}
	}
	h.collections.Add(1)
	return swept
}

// Collections returns how many collections have run.
func (h *Host) Collections() int64 {
	return h.collections.Load()
}

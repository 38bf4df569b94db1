// Package memory implements the stack-based rooting protocol: slab-backed
// frames of root slots, the atomically published stack cursor the collector
// consults, and the scope/output surface through which native code roots
// host values.
//
// Each native execution context owns exactly one FrameStack. Frames nest
// strictly LIFO; the cursor always equals the true top of stack at any point
// the collector may run. Rooting is infallible short of memory exhaustion,
// which is fatal: the protocol cannot be honored without slots.
package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/tether/host"
)

// ---------------------------------------------------------------------------
// Frame: a LIFO span of root slots carved from a slab
// ---------------------------------------------------------------------------

// A Frame is one native scope's span of root slots. It never straddles two
// slabs: when growth outruns the current slab the frame relocates wholly
// into a fresh one.
type Frame struct {
	stack    *FrameStack
	slab     *Slab
	offset   int
	used     int
	capacity int
	prev     *Frame
	popped   bool
}

// Used returns the number of occupied slots, reserved output slots included.
func (f *Frame) Used() int {
	return f.used
}

// Capacity returns the frame's current slot capacity.
func (f *Frame) Capacity() int {
	return f.capacity
}

// end returns the first slot index past the frame's span.
func (f *Frame) end() int {
	return f.offset + f.capacity
}

// setSlot writes a root into the frame's span.
func (f *Frame) setSlot(slot int, ref host.Ref) {
	f.slab.slots[f.offset+slot] = ref
}

// slot reads a root from the frame's span.
func (f *Frame) slot(slot int) host.Ref {
	return f.slab.slots[f.offset+slot]
}

// grow extends the frame's span by at least additional slots. Only the top
// frame may grow; as the topmost span of its slab it can extend in place
// when the slab has room. Otherwise the
// frame relocates into a fresh slab large enough for the grown span; the
// used slots are copied so slot indices held by rooted values and outputs
// stay valid. The abandoned span is reclaimed when the frame pops.
func (f *Frame) grow(additional int) {
	if f.stack.top.Load() != f {
		// A deeper frame may already occupy the slots past end().
		panic("memory: grow of non-top frame")
	}
	if f.end()+additional <= f.slab.size() {
		f.capacity += additional
		return
	}

	want := f.capacity + additional
	if doubled := 2 * f.capacity; doubled > want {
		want = doubled
	}
	fresh := newSlab(want)
	copy(fresh.slots[:f.used], f.slab.slots[f.offset:f.offset+f.used])

	old, oldOffset, oldCapacity := f.slab, f.offset, f.capacity
	f.slab = fresh
	f.offset = 0
	f.capacity += additional

	old.clearSpan(oldOffset, oldCapacity)
	if oldOffset == 0 && (f.prev == nil || f.prev.slab != old) {
		// The frame was the slab's only occupant; keep the empty slab
		// around for the next push.
		f.stack.retain(old)
	}
}

// ---------------------------------------------------------------------------
// FrameStack: per-context frame stack and collector-visible cursor
// ---------------------------------------------------------------------------

// A FrameStack is the frame stack of one native execution context. The top
// frame is published through an atomic cursor so the collector always
// observes a consistent stack, never an intermediate state of a push or pop.
//
// A FrameStack must only be mutated by its owning context. It implements
// host.RootSource; the collector reads it at safepoints only.
type FrameStack struct {
	top   atomic.Pointer[Frame]
	spare *Slab
}

// NewFrameStack returns an empty stack. No slab is allocated until the
// first frame is pushed.
func NewFrameStack() *FrameStack {
	return &FrameStack{}
}

// Depth returns the number of live frames.
func (s *FrameStack) Depth() int {
	n := 0
	for f := s.top.Load(); f != nil; f = f.prev {
		n++
	}
	return n
}

// Top returns the current top frame, or nil for an empty stack.
func (s *FrameStack) Top() *Frame {
	return s.top.Load()
}

// VisitRoots reports every rooted reference to the collector. Reserved but
// uncommitted output slots hold the absent value and are skipped.
func (s *FrameStack) VisitRoots(visit func(host.Ref)) {
	for f := s.top.Load(); f != nil; f = f.prev {
		for i := 0; i < f.used; i++ {
			if ref := f.slot(i); !ref.IsNil() {
				visit(ref)
			}
		}
	}
}

// pushFrame carves a frame of the given initial capacity. Remaining space in
// the top frame's slab is reused when sufficient; otherwise the spare slab
// or a fresh one sized to at least the hint backs the new frame.
func (s *FrameStack) pushFrame(capacityHint int) *Frame {
	if capacityHint < 0 {
		panic(fmt.Sprintf("memory: negative capacity hint %d", capacityHint))
	}

	top := s.top.Load()
	var slab *Slab
	var offset int
	switch {
	case top != nil && top.end()+capacityHint <= top.slab.size():
		slab, offset = top.slab, top.end()
	case s.spare != nil && capacityHint <= s.spare.size():
		slab, s.spare = s.spare, nil
	default:
		slab = newSlab(capacityHint)
	}

	f := &Frame{
		stack:    s,
		slab:     slab,
		offset:   offset,
		capacity: capacityHint,
		prev:     top,
	}
	s.top.Store(f)
	return f
}

// popFrame unlinks the top frame and reclaims its slots. Popping any frame
// other than the top is a programming error. A slab left fully empty is
// retained once for reuse; further empties are released to the allocator.
func (s *FrameStack) popFrame(f *Frame) {
	if s.top.Load() != f {
		panic("memory: pop of non-top frame")
	}
	s.top.Store(f.prev)
	f.slab.clearSpan(f.offset, f.capacity)
	f.popped = true

	if f.offset == 0 && (f.prev == nil || f.prev.slab != f.slab) {
		s.retain(f.slab)
	}
}

// retain keeps one empty slab for reuse, preferring the larger of the
// current spare and the candidate.
func (s *FrameStack) retain(slab *Slab) {
	if s.spare == nil || s.spare.size() < slab.size() {
		s.spare = slab
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// FrameStat describes one live frame, top first.
type FrameStat struct {
	Used     int
	Capacity int
}

// StackStats is a point-in-time description of a frame stack, taken by the
// owning context for diagnostics.
type StackStats struct {
	Depth  int
	Slabs  int
	Frames []FrameStat
}

// Stats reports the stack's current shape. Must be called by the owning
// context.
func (s *FrameStack) Stats() StackStats {
	var st StackStats
	seen := make(map[*Slab]bool)
	for f := s.top.Load(); f != nil; f = f.prev {
		st.Depth++
		st.Frames = append(st.Frames, FrameStat{Used: f.used, Capacity: f.capacity})
		seen[f.slab] = true
	}
	st.Slabs = len(seen)
	if s.spare != nil {
		st.Slabs++
	}
	return st
}

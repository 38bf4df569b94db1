package memory

import "github.com/chazu/tether/host"

// ---------------------------------------------------------------------------
// Scope: the capability handed to code running inside a frame
// ---------------------------------------------------------------------------

// A Scope wraps the live frame of the current native scope. It is only valid
// for the duration of the EnterScope callback that produced it; holding one
// past that point is a programming error, the owning frame is gone.
//
// A scope offers exactly two rooting strategies: root in the current frame
// (RootHere) or root through a pre-reserved slot in an ancestor frame
// (an Output's Commit).
type Scope struct {
	frame *Frame
}

// EnterScope pushes a frame with the given initial capacity, runs fn with a
// scope over it, and pops the frame on every exit path, panics included.
// The cursor the collector observes is updated atomically on both sides.
func (s *FrameStack) EnterScope(capacityHint int, fn func(*Scope) error) error {
	f := s.pushFrame(capacityHint)
	defer s.popFrame(f)
	return fn(&Scope{frame: f})
}

// Frame returns the scope's live frame.
func (sc *Scope) Frame() *Frame {
	return sc.frame
}

// RootHere roots a host value in the current frame and returns the rooted
// handle. The frame grows as needed; growth is infallible short of memory
// exhaustion, which is fatal.
func (sc *Scope) RootHere(ref host.Ref) RootedValue {
	f := sc.frame
	if f.popped {
		panic("memory: RootHere on exited scope")
	}
	if f.used == f.capacity {
		f.grow(1)
	}
	slot := f.used
	f.used++
	f.setSlot(slot, ref)
	return RootedValue{frame: f, slot: slot}
}

// MakeOutput reserves one slot in the scope's own frame and returns a handle
// that commits a value into it from a nested scope. The reservation counts
// toward the frame's used slots immediately; until committed the slot holds
// the absent value, which the collector skips.
//
// Because an Output can only be manufactured from a live scope and commits
// into that scope's frame, its target is an ancestor of any scope it is
// handed to, and it cannot outlive the frame it targets.
func (sc *Scope) MakeOutput() *Output {
	f := sc.frame
	if f.popped {
		panic("memory: MakeOutput on exited scope")
	}
	if f.used == f.capacity {
		f.grow(1)
	}
	slot := f.used
	f.used++
	f.setSlot(slot, 0)
	return &Output{frame: f, slot: slot}
}

// ---------------------------------------------------------------------------
// RootedValue
// ---------------------------------------------------------------------------

// A RootedValue is a host reference bound to the frame that owns its slot.
// It stays valid exactly as long as that frame is live.
type RootedValue struct {
	frame *Frame
	slot  int
}

// Ref returns the rooted host reference. Panics once the owning frame has
// been popped; a reference that needs to outlive its frame must be routed
// through an Output instead.
func (v RootedValue) Ref() host.Ref {
	if v.frame == nil || v.frame.popped {
		panic("memory: rooted value outlived its frame")
	}
	return v.frame.slot(v.slot)
}

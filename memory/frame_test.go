package memory

import (
	"errors"
	"testing"

	"github.com/chazu/tether/host"
)

// ---------------------------------------------------------------------------
// Frame allocator unit tests
// ---------------------------------------------------------------------------

func TestPushPopBalance(t *testing.T) {
	s := NewFrameStack()
	if s.Top() != nil {
		t.Fatalf("Expected empty stack, got top %v", s.Top())
	}

	f1 := s.pushFrame(2)
	f2 := s.pushFrame(4)
	if s.Top() != f2 {
		t.Errorf("Expected f2 on top, got %v", s.Top())
	}
	s.popFrame(f2)
	if s.Top() != f1 {
		t.Errorf("Expected f1 on top after pop, got %v", s.Top())
	}
	s.popFrame(f1)
	if s.Top() != nil {
		t.Errorf("Expected empty stack after popping all frames, got %v", s.Top())
	}
}

func TestPopNonTopPanics(t *testing.T) {
	s := NewFrameStack()
	f1 := s.pushFrame(1)
	s.pushFrame(1)

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic when popping non-top frame")
		}
	}()
	s.popFrame(f1)
}

func TestFramesShareSlab(t *testing.T) {
	s := NewFrameStack()
	f1 := s.pushFrame(4)
	f2 := s.pushFrame(4)
	if f1.slab != f2.slab {
		t.Errorf("Expected nested frame to reuse remaining slab space")
	}
	if f2.offset != f1.end() {
		t.Errorf("Expected f2 at offset %d, got %d", f1.end(), f2.offset)
	}
}

func TestLargeHintGetsFreshSlab(t *testing.T) {
	s := NewFrameStack()
	f1 := s.pushFrame(4)
	big := f1.slab.size() // cannot fit behind f1
	f2 := s.pushFrame(big)
	if f1.slab == f2.slab {
		t.Errorf("Expected fresh slab for oversized hint")
	}
	if f2.slab.size() < big {
		t.Errorf("Expected slab of at least %d slots, got %d", big, f2.slab.size())
	}
}

func TestGrowInPlace(t *testing.T) {
	s := NewFrameStack()
	f := s.pushFrame(2)
	slab := f.slab
	f.grow(4)
	if f.slab != slab {
		t.Errorf("Expected in-place growth within the slab")
	}
	if f.Capacity() != 6 {
		t.Errorf("Expected capacity 6, got %d", f.Capacity())
	}
}

// Growing past the slab's remaining space must relocate the frame wholly
// into a fresh slab; a frame never straddles two slabs.
func TestGrowNeverStraddlesSlabs(t *testing.T) {
	s := NewFrameStack()
	f := s.pushFrame(minSlabSlots)
	old := f.slab

	f.setSlot(0, 0xd00d8)
	f.used = 1

	f.grow(1)
	if f.slab == old {
		t.Fatalf("Expected relocation into a fresh slab")
	}
	if f.offset != 0 {
		t.Errorf("Expected relocated frame at offset 0, got %d", f.offset)
	}
	if f.Capacity() != minSlabSlots+1 {
		t.Errorf("Expected capacity %d, got %d", minSlabSlots+1, f.Capacity())
	}
	if got := f.slot(0); got != 0xd00d8 {
		t.Errorf("Expected root to survive relocation, got %#x", uintptr(got))
	}
	// The abandoned span must not be scanned anymore.
	if old.slots[0] != 0 {
		t.Errorf("Expected abandoned span to be cleared")
	}
}

func TestEmptySlabRetainedForReuse(t *testing.T) {
	s := NewFrameStack()
	f := s.pushFrame(4)
	slab := f.slab
	s.popFrame(f)

	f2 := s.pushFrame(4)
	if f2.slab != slab {
		t.Errorf("Expected spare slab to be reused on the next push")
	}
}

func TestVisitRootsSkipsEmptySlots(t *testing.T) {
	s := NewFrameStack()
	f := s.pushFrame(4)
	f.used = 3
	f.setSlot(1, 0xbeef8)

	var seen []uintptr
	s.VisitRoots(func(r host.Ref) {
		seen = append(seen, uintptr(r))
	})
	if len(seen) != 1 || seen[0] != 0xbeef8 {
		t.Errorf("Expected exactly the committed root, got %#x", seen)
	}
	s.popFrame(f)
}

func TestStats(t *testing.T) {
	s := NewFrameStack()
	s.pushFrame(2)
	f2 := s.pushFrame(3)
	f2.used = 2

	st := s.Stats()
	if st.Depth != 2 {
		t.Errorf("Expected depth 2, got %d", st.Depth)
	}
	if st.Slabs != 1 {
		t.Errorf("Expected 1 slab, got %d", st.Slabs)
	}
	if st.Frames[0].Used != 2 || st.Frames[0].Capacity != 3 {
		t.Errorf("Expected top frame stat {2 3}, got %+v", st.Frames[0])
	}
}

// Stack balance must hold across error exits and panics alike.
func TestScopeBalanceOnAllExitPaths(t *testing.T) {
	s := NewFrameStack()
	sentinel := errors.New("sentinel")

	err := s.EnterScope(2, func(sc *Scope) error {
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("Expected sentinel error, got %v", err)
	}
	if s.Top() != nil {
		t.Errorf("Expected balanced stack after error exit")
	}

	func() {
		defer func() { recover() }()
		_ = s.EnterScope(2, func(sc *Scope) error {
			panic("boom")
		})
	}()
	if s.Top() != nil {
		t.Errorf("Expected balanced stack after panic exit")
	}
}

package memory

import "github.com/chazu/tether/host"

// minSlabSlots is the smallest slab ever allocated. Matches the minimum
// page size used by the host's own root stacks.
const minSlabSlots = 64

// ---------------------------------------------------------------------------
// Slab: the unit of bulk allocation for root slots
// ---------------------------------------------------------------------------

// A Slab is a fixed-capacity block of pointer-sized root slots. Once
// allocated it never moves and is never resized in place; frames carve
// contiguous spans out of it. A slab is identified by its address.
type Slab struct {
	slots []host.Ref
}

// newSlab allocates a slab of at least minCapacity slots.
func newSlab(minCapacity int) *Slab {
	n := minCapacity
	if n < minSlabSlots {
		n = minSlabSlots
	}
	return &Slab{slots: make([]host.Ref, n)}
}

// size returns the slab's slot capacity.
func (s *Slab) size() int {
	return len(s.slots)
}

// clearSpan zeroes a span of slots so stale references are not scanned.
func (s *Slab) clearSpan(offset, n int) {
	for i := offset; i < offset+n; i++ {
		s.slots[i] = 0
	}
}

package memory

import "github.com/chazu/tether/host"

// ---------------------------------------------------------------------------
// Output: forward reservation of an ancestor frame's slot
// ---------------------------------------------------------------------------

// An Output is a one-shot handle over a slot reserved in an ancestor frame.
// A value produced deep inside nested scopes is committed straight into the
// ancestor's slot, so it is rooted in the outer frame without ever being
// transiently rooted in a frame that is about to be popped.
//
// Outputs are affine: Commit consumes the handle and a second commit panics.
type Output struct {
	frame     *Frame
	slot      int
	committed bool
}

// Commit writes a host value into the reserved ancestor slot and returns the
// rooted handle. Panics on reuse, or if the target frame has already been
// popped; both are programming errors, not runtime conditions.
func (o *Output) Commit(ref host.Ref) RootedValue {
	if o.committed {
		panic("memory: output committed twice")
	}
	if o.frame.popped {
		panic("memory: output target frame already popped")
	}
	o.committed = true
	o.frame.setSlot(o.slot, ref)
	return RootedValue{frame: o.frame, slot: o.slot}
}

// Committed reports whether the output has been consumed.
func (o *Output) Committed() bool {
	return o.committed
}

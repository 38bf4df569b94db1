// Package host declares the raw call surface of the embedded, garbage-collected
// runtime. tether is a client of this surface: it never implements collection
// itself, it only keeps the collector informed of the references native code
// is holding. The production implementation is generated from the runtime's
// public C interface; the hosttest subpackage provides a simulated runtime
// for tests.
package host

import "fmt"

// Ref is an opaque reference to a value on the host heap. The zero Ref is
// the absent value and is never handed out for live data.
type Ref uintptr

// IsNil reports whether the reference is the absent value.
func (r Ref) IsNil() bool {
	return r == 0
}

// ContextToken identifies a native execution context the runtime has adopted
// as one of its own schedulable units.
type ContextToken uint64

// RootSource exposes the rooted references of one native context to the
// collector. The collector calls VisitRoots at safepoints; implementations
// must tolerate being read while the owning context is between operations,
// which in practice means the top-of-stack pointer is published atomically.
type RootSource interface {
	VisitRoots(visit func(Ref))
}

// Runtime is the raw call surface consumed by tether. Every call that enters
// host code may raise a host exception, which travels as panic(*Thrown) and
// must be stopped at a guard boundary before it reaches native frames.
//
// All methods except Schedule must be called from an adopted context.
type Runtime interface {
	// AdoptContext registers the calling native context as a schedulable
	// unit and publishes its roots to the collector.
	AdoptContext(roots RootSource) ContextToken

	// ReleaseContext unregisters a previously adopted context. The roots
	// published under the token are no longer scanned afterwards.
	ReleaseContext(token ContextToken)

	// New allocates a fresh value on the host heap.
	New(data any) Ref

	// Deref returns the payload of a host value. Panics if the value has
	// been collected; reaching that panic means a rooting bug.
	Deref(ref Ref) any

	// Global looks up a binding in the host's root namespace; returns the
	// absent value when the binding does not exist.
	Global(name string) Ref

	// SetGlobal installs a binding in the host's root namespace.
	SetGlobal(name string, ref Ref)

	// Call invokes a host function value with the given arguments. An
	// exception raised by the callee propagates as panic(*Thrown).
	Call(fn Ref, args ...Ref) Ref

	// Schedule hands a closure to the host's own task scheduler. Used by
	// the wake bridge: completion callbacks run as host-scheduled work.
	Schedule(fn func())

	// Yield offers the host scheduler a cooperative scheduling point.
	Yield()
}

// Thrown carries an exception raised inside the host runtime across the call
// boundary. It is panicked by Runtime implementations and recovered by the
// guard package; it must never unwind into native frames beyond that.
type Thrown struct {
	Value   Ref    // the host exception object
	Message string // best-effort rendering for logs
}

func (t *Thrown) Error() string {
	if t.Message == "" {
		return fmt.Sprintf("host exception (value %#x)", uintptr(t.Value))
	}
	return fmt.Sprintf("host exception: %s", t.Message)
}

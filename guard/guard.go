// Package guard is the catch bridge between native code and the host
// runtime. A guarded call converts an exception raised by host code into a
// tagged result instead of letting it unwind into native frames, and it
// converts a native panic inside the callback into a tagged result instead
// of letting it unwind into host frames. Stack unwinding never crosses the
// boundary in either direction; crossing it would corrupt the host's own
// stack bookkeeping.
package guard

import (
	"fmt"
	"runtime/debug"

	"github.com/chazu/tether/host"
	"github.com/chazu/tether/memory"
)

// Kind tags a guarded call's outcome.
type Kind int

const (
	// OK: the call returned a value.
	OK Kind = iota
	// Exception: host code raised; the exception travels as data.
	Exception
	// Panic: the native callback panicked; the panic was stopped at the
	// boundary and must be re-raised on the native side, never inside
	// host frames.
	Panic
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Exception:
		return "exception"
	case Panic:
		return "panic"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// PanicError carries a native panic captured at the guard boundary.
type PanicError struct {
	Value any    // the value passed to panic
	Stack []byte // stack trace captured at recovery
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in guarded call: %v", e.Value)
}

// Result is the tagged outcome of a guarded call.
type Result struct {
	kind     Kind
	value    host.Ref
	thrown   *host.Thrown
	panicked *PanicError
}

// Kind returns the result's tag.
func (r Result) Kind() Kind {
	return r.kind
}

// Value returns the returned host reference. Panics unless the result is OK.
func (r Result) Value() host.Ref {
	if r.kind != OK {
		panic(fmt.Sprintf("guard: Value on %s result", r.kind))
	}
	return r.value
}

// Thrown returns the captured host exception, or nil.
func (r Result) Thrown() *host.Thrown {
	return r.thrown
}

// Panicked returns the captured native panic, or nil.
func (r Result) Panicked() *PanicError {
	return r.panicked
}

// Unwrap converts the result to Go conventions: the value and nil for OK,
// the exception as an error for Exception. A captured native panic is
// re-raised here, on the native side of the boundary, which is the expected
// policy: the panic must terminate the native operation, not host frames.
func (r Result) Unwrap() (host.Ref, error) {
	switch r.kind {
	case OK:
		return r.value, nil
	case Exception:
		return 0, r.thrown
	default:
		panic(r.panicked)
	}
}

// Ok wraps a plain value as a guarded result.
func Ok(ref host.Ref) Result {
	return Result{kind: OK, value: ref}
}

// CallIn runs fn inside the catch boundary and roots a caught exception's
// value in sc before returning. The frames that were live when the host
// raised are gone by the time the boundary recovers, so without the re-root
// only the Message rendering would be stable; CallIn makes the exception
// object itself safe to examine across collections for as long as sc lives.
func CallIn(sc *memory.Scope, fn func() host.Ref) Result {
	res := Call(fn)
	if thrown := res.Thrown(); thrown != nil && !thrown.Value.IsNil() {
		sc.RootHere(thrown.Value)
	}
	return res
}

// Call runs fn inside the catch boundary and returns its outcome as data.
// A caught exception's value arrives unrooted; callers that hold a live
// scope and need the exception object past the next collection use CallIn.
func Call(fn func() host.Ref) (res Result) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if thrown, ok := r.(*host.Thrown); ok {
			res = Result{kind: Exception, thrown: thrown}
			return
		}
		if pe, ok := r.(*PanicError); ok {
			// Already captured at an inner boundary; keep the original site.
			res = Result{kind: Panic, panicked: pe}
			return
		}
		res = Result{kind: Panic, panicked: &PanicError{Value: r, Stack: debug.Stack()}}
	}()
	return Result{kind: OK, value: fn()}
}

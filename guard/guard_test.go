package guard

import (
	"strings"
	"testing"

	"github.com/chazu/tether/host"
	"github.com/chazu/tether/host/hosttest"
	"github.com/chazu/tether/memory"
)

// ---------------------------------------------------------------------------
// Catch bridge tests
// ---------------------------------------------------------------------------

func TestCallReturnsValue(t *testing.T) {
	res := Call(func() host.Ref {
		return 0x42a8
	})
	if res.Kind() != OK {
		t.Fatalf("Expected OK, got %s", res.Kind())
	}
	if res.Value() != 0x42a8 {
		t.Errorf("Expected value %#x, got %#x", 0x42a8, uintptr(res.Value()))
	}
	v, err := res.Unwrap()
	if err != nil || v != 0x42a8 {
		t.Errorf("Expected clean unwrap, got (%#x, %v)", uintptr(v), err)
	}
}

func TestCallCapturesHostException(t *testing.T) {
	h := hosttest.New()
	boom := h.NewFunc(func(h *hosttest.Host, args []host.Ref) host.Ref {
		h.Throw("division by zero")
		return 0
	})

	res := Call(func() host.Ref {
		return h.Call(boom)
	})
	if res.Kind() != Exception {
		t.Fatalf("Expected Exception, got %s", res.Kind())
	}
	if got := res.Thrown().Message; got != "division by zero" {
		t.Errorf("Expected originating exception, got %q", got)
	}
	if !h.Alive(res.Thrown().Value) {
		t.Errorf("Expected exception object to be dereferenceable")
	}

	_, err := res.Unwrap()
	if err == nil || !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("Expected exception as error, got %v", err)
	}
}

func TestCallCapturesNativePanic(t *testing.T) {
	res := Call(func() host.Ref {
		panic("native bug")
	})
	if res.Kind() != Panic {
		t.Fatalf("Expected Panic, got %s", res.Kind())
	}
	if res.Panicked().Value != "native bug" {
		t.Errorf("Expected panic value to be preserved, got %v", res.Panicked().Value)
	}
	if len(res.Panicked().Stack) == 0 {
		t.Errorf("Expected captured stack trace")
	}
}

func TestUnwrapReraisesNativePanic(t *testing.T) {
	res := Call(func() host.Ref {
		panic("native bug")
	})

	defer func() {
		r := recover()
		pe, ok := r.(*PanicError)
		if !ok {
			t.Fatalf("Expected re-raised *PanicError, got %v", r)
		}
		if pe.Value != "native bug" {
			t.Errorf("Expected original panic value, got %v", pe.Value)
		}
	}()
	_, _ = res.Unwrap()
}

func TestNestedGuardKeepsOriginalSite(t *testing.T) {
	inner := Call(func() host.Ref {
		panic("inner bug")
	})

	outer := Call(func() host.Ref {
		_, _ = inner.Unwrap() // re-raises
		return 0
	})
	if outer.Kind() != Panic {
		t.Fatalf("Expected Panic, got %s", outer.Kind())
	}
	if outer.Panicked() != inner.Panicked() {
		t.Errorf("Expected the original capture to be preserved across boundaries")
	}
}

func TestValueOnNonOKPanics(t *testing.T) {
	res := Call(func() host.Ref {
		panic("bug")
	})
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic reading Value of a Panic result")
		}
	}()
	_ = res.Value()
}

func TestCallInPassesValueThrough(t *testing.T) {
	h := hosttest.New()
	stack := memory.NewFrameStack()
	token := h.AdoptContext(stack)
	defer h.ReleaseContext(token)

	_ = stack.EnterScope(1, func(sc *memory.Scope) error {
		res := CallIn(sc, func() host.Ref {
			return 0x42a8
		})
		if res.Kind() != OK || res.Value() != 0x42a8 {
			t.Fatalf("Expected OK 0x42a8, got %s", res.Kind())
		}
		return nil
	})
}

func TestCaughtExceptionValueSurvivesCollection(t *testing.T) {
	h := hosttest.New()
	stack := memory.NewFrameStack()
	token := h.AdoptContext(stack)
	defer h.ReleaseContext(token)

	_ = stack.EnterScope(1, func(sc *memory.Scope) error {
		res := CallIn(sc, func() host.Ref {
			h.Throw("kaput")
			return 0
		})
		if res.Kind() != Exception {
			t.Fatalf("Expected Exception, got %s", res.Kind())
		}

		// The raising frames are gone; the re-root in sc must carry the
		// exception object across the collection.
		h.Collect()
		if !h.Alive(res.Thrown().Value) {
			t.Fatal("caught exception value collected before the handler could use it")
		}
		if got := h.Deref(res.Thrown().Value); got != "kaput" {
			t.Errorf("Expected exception payload %q, got %v", "kaput", got)
		}
		return nil
	})
}

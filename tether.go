// Package tether is a safety layer for embedding a garbage-collected host
// runtime in Go. It keeps the host's collector informed of every host-heap
// reference native code holds (the frame-stack rooting protocol), arbitrates
// concurrent access to values shared across the boundary (the borrow
// ledger), and schedules long-running native work onto the host's
// cooperative task model (the dispatcher and wake bridge). It is strictly a
// client of the host's rooting and scheduling contracts; it implements no
// collection machinery of its own.
package tether

import (
	"fmt"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/tether/config"
	"github.com/chazu/tether/dispatch"
	"github.com/chazu/tether/guard"
	"github.com/chazu/tether/host"
	"github.com/chazu/tether/ledger"
	"github.com/chazu/tether/memory"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("tether")

// A Runtime ties the pieces together for one embedding: the adopted main
// context and its frame stack, the borrow ledger, and the dispatcher. All
// process-wide state hangs off a Runtime so initialization and teardown
// order stay explicit; there are no ambient globals.
type Runtime struct {
	cfg    *config.Config
	host   host.Runtime
	main   *memory.FrameStack
	token  host.ContextToken
	ledger *ledger.Ledger
	disp   *dispatch.Dispatcher
	closed atomic.Bool
}

// New adopts the calling context with the host and brings up the runtime.
// A nil cfg uses the built-in defaults.
func New(cfg *config.Config, h host.Runtime) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tether: %w", err)
	}

	rt := &Runtime{
		cfg:    cfg,
		host:   h,
		main:   memory.NewFrameStack(),
		ledger: ledger.NewWithSpin(cfg.Ledger.SpinBudget),
	}
	rt.token = h.AdoptContext(rt.main)
	rt.disp = dispatch.New(cfg, h)
	log.Info("runtime up")
	return rt, nil
}

// Host returns the raw call surface.
func (rt *Runtime) Host() host.Runtime {
	return rt.host
}

// Ledger returns the borrow ledger shared by both sides of the boundary.
func (rt *Runtime) Ledger() *ledger.Ledger {
	return rt.ledger
}

// Dispatcher returns the task dispatcher.
func (rt *Runtime) Dispatcher() *dispatch.Dispatcher {
	return rt.disp
}

// MainStack returns the adopted main context's frame stack. Exposed for
// diagnostics; it must only be mutated through Enter.
func (rt *Runtime) MainStack() *memory.FrameStack {
	return rt.main
}

// Enter opens a root-level scope on the main context. The frame is popped
// on every exit path.
func (rt *Runtime) Enter(capacityHint int, fn func(*memory.Scope) error) error {
	if rt.closed.Load() {
		return fmt.Errorf("tether: runtime closed")
	}
	return rt.main.EnterScope(capacityHint, fn)
}

// CallGuarded runs fn behind the catch bridge on the caller's context. A
// caught exception's value arrives unrooted; a handler that needs the
// exception object past the next collection runs inside Enter and uses
// guard.CallIn with the scope.
func (rt *Runtime) CallGuarded(fn func() host.Ref) guard.Result {
	return guard.Call(fn)
}

// Close drains the dispatcher and releases the main context. The order
// mirrors startup in reverse: no task may outlive the context teardown.
func (rt *Runtime) Close() {
	if !rt.closed.CompareAndSwap(false, true) {
		return
	}
	rt.disp.Close()
	rt.host.ReleaseContext(rt.token)
	log.Info("runtime down")
}

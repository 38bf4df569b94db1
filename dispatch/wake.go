package dispatch

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Wake bridge: cross-scheduler notification
// ---------------------------------------------------------------------------

// A WakeToken names a registered waiter across the native/host boundary.
// Tokens are marker-encoded so they cannot collide with other handle kinds
// a raw callback might receive. The zero token means "no waiter".
type WakeToken uintptr

const (
	wakeMarker uintptr = 0x5 << 24
	wakeIDMask uintptr = 1<<24 - 1
)

// A Waiter is the native condition primitive of the wake bridge: native code
// blocks on Wait until host-scheduled code signals the waiter's token.
//
// The pairing of one blocking wait with one wake is 1:1 per invocation.
// Reusing a waiter across invocations, or leaking it unsignalled, is
// documented misuse; the bridge does not detect it at runtime.
type Waiter struct {
	ch chan struct{}
}

// Wait blocks until the waiter is woken.
func (w *Waiter) Wait() {
	<-w.ch
}

type wakeRegistry struct {
	mu      sync.RWMutex
	waiters map[WakeToken]*Waiter
	nextID  atomic.Uint32
}

func (r *wakeRegistry) init() {
	r.waiters = make(map[WakeToken]*Waiter)
	r.nextID.Store(1)
}

// NewWaiter registers a fresh waiter and returns it with its token. The
// token is what crosses into host-scheduled code. Ids are confined to the
// bits below the marker; on wraparound, ids still held by live waiters are
// skipped, so a token never names two waiters.
func (d *Dispatcher) NewWaiter() (*Waiter, WakeToken) {
	w := &Waiter{ch: make(chan struct{})}

	d.wakes.mu.Lock()
	var token WakeToken
	for {
		id := uintptr(d.wakes.nextID.Add(1)) & wakeIDMask
		if id == 0 {
			continue
		}
		token = WakeToken(id | wakeMarker)
		if _, live := d.wakes.waiters[token]; !live {
			break
		}
	}
	d.wakes.waiters[token] = w
	d.wakes.mu.Unlock()
	return w, token
}

// Wake is the raw completion callback: host-scheduled code invokes it with
// a waiter's token to release the blocked native waiter. The registration
// is consumed; a token wakes exactly one invocation's waiter.
func (d *Dispatcher) Wake(token WakeToken) {
	d.wakes.mu.Lock()
	w, ok := d.wakes.waiters[token]
	if ok {
		delete(d.wakes.waiters, token)
	}
	d.wakes.mu.Unlock()

	if !ok {
		log.Debugf("wake of unknown token %#x", uintptr(token))
		return
	}
	close(w.ch)
}

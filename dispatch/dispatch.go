// Package dispatch submits native work onto the host runtime's scheduling
// model while preserving the rooting protocol. Pools group worker contexts
// by scheduling affinity behind bounded FIFO queues; every dispatched task
// runs as an adopted schedulable unit with its own frame stack, behind the
// guard boundary. The wake bridge lets a blocked native waiter be released
// by host-scheduled completion callbacks.
package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/tether/config"
	"github.com/chazu/tether/host"
)

var log = commonlog.GetLogger("tether.dispatch")

// Backpressure and lifecycle signals. Both are recoverable: Busy invites a
// retry, Closed means the dispatcher has been shut down.
var (
	ErrBusy   = errors.New("dispatch: pool queue full")
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

// Affinity selects the scheduling class a task is dispatched to.
type Affinity int

const (
	// Default is the pool for ordinary fire-and-forget work.
	Default Affinity = iota
	// Interactive is the latency-sensitive pool.
	Interactive
	// Pinned runs all tasks on one dedicated execution context, in strict
	// submission order.
	Pinned
)

func (a Affinity) String() string {
	switch a {
	case Default:
		return config.PoolDefault
	case Interactive:
		return config.PoolInteractive
	case Pinned:
		return config.PoolPinned
	default:
		return fmt.Sprintf("Affinity(%d)", int(a))
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// A Dispatcher owns the pools and the wake registry. It is created at
// runtime startup and torn down at shutdown; there is no ambient global
// dispatcher state.
type Dispatcher struct {
	host  host.Runtime
	pools map[Affinity]*Pool
	wakes wakeRegistry

	persistMu sync.Mutex
	persist   []*PersistentHandle
}

// New builds a dispatcher with one pool per affinity, dimensioned by cfg.
func New(cfg *config.Config, h host.Runtime) *Dispatcher {
	d := &Dispatcher{
		host:  h,
		pools: make(map[Affinity]*Pool, 3),
	}
	d.wakes.init()

	for _, affinity := range []Affinity{Default, Interactive, Pinned} {
		pc := cfg.Pool(affinity.String())
		d.pools[affinity] = newPool(affinity, h, d.Wake, pc.QueueCapacity, pc.Workers, cfg.Memory.SlabSlots)
		log.Debugf("pool %s: queue %d, workers %d", affinity, pc.QueueCapacity, pc.Workers)
	}
	return d
}

// SubmitOption adjusts a single submission.
type SubmitOption func(*task)

// WithWake attaches a wake token: when the task completes, host-scheduled
// code signals the waiter registered under the token. The pairing must be
// 1:1 per invocation; that is a precondition, not something the dispatcher
// checks.
func WithWake(token WakeToken) SubmitOption {
	return func(t *task) { t.wake = token }
}

// Submit enqueues a task on the given affinity's pool and returns its
// handle. When the queue is full, Submit waits for a slot: backpressure,
// never dropped work.
func (d *Dispatcher) Submit(affinity Affinity, fn TaskFunc, opts ...SubmitOption) (*TaskHandle, error) {
	t := newTask(fn, 0)
	for _, opt := range opts {
		opt(t)
	}
	if err := d.pool(affinity).submit(t); err != nil {
		return nil, err
	}
	return &TaskHandle{t: t}, nil
}

// TrySubmit enqueues like Submit but returns ErrBusy instead of waiting
// when the queue is full. The caller decides whether to retry or surface
// the backpressure; the dispatcher never retries on its own.
func (d *Dispatcher) TrySubmit(affinity Affinity, fn TaskFunc, opts ...SubmitOption) (*TaskHandle, error) {
	t := newTask(fn, 0)
	for _, opt := range opts {
		opt(t)
	}
	if err := d.pool(affinity).trySubmit(t); err != nil {
		return nil, err
	}
	return &TaskHandle{t: t}, nil
}

func (d *Dispatcher) pool(affinity Affinity) *Pool {
	p, ok := d.pools[affinity]
	if !ok {
		panic(fmt.Sprintf("dispatch: unknown affinity %d", int(affinity)))
	}
	return p
}

// Stats reports the current queue depths of all pools.
func (d *Dispatcher) Stats() []PoolStats {
	stats := make([]PoolStats, 0, len(d.pools))
	for _, affinity := range []Affinity{Default, Interactive, Pinned} {
		stats = append(stats, d.pools[affinity].stats())
	}
	return stats
}

// Close drains and stops every pool and persistent worker. Queued tasks
// still run to completion; new submissions fail with ErrClosed.
func (d *Dispatcher) Close() {
	d.persistMu.Lock()
	handles := d.persist
	d.persist = nil
	d.persistMu.Unlock()
	for _, ph := range handles {
		ph.Close()
	}

	for _, p := range d.pools {
		p.close()
	}
	log.Info("dispatcher closed")
}

// Package ledger tracks shared and exclusive borrows of values whose backing
// memory is visible to both the native side and the host runtime. It is the
// one structure in tether that is mutated concurrently from multiple
// contexts, and it is guarded purely by lock-free atomics: taking a blocking
// OS lock while a root might be mid-update would hand the collector a torn
// state.
//
// Borrow states per value identity:
//
//	0   free
//	n>0 shared, n outstanding borrows
//	-1  exclusive
//
// A failed borrow is an ordinary outcome (the caller retries, waits, or
// reports upward), never a fault.
package ledger

import (
	"runtime"
	"sync"
	"sync/atomic"
)

const (
	stateFree      int64 = 0
	stateExclusive int64 = -1
	// stateDead marks an entry that has been unlinked from the table.
	// A borrower that loses the race against removal refetches the entry.
	stateDead int64 = -2
)

// defaultSpin is the CAS retry budget before yielding to the scheduler.
// Borrows are held for short, non-blocking intervals, so contention is
// expected to clear within a few iterations.
const defaultSpin = 64

// A Ledger is a runtime borrow tracker keyed by stable value identity.
// The zero value is not ready for use; call New.
type Ledger struct {
	entries sync.Map // uintptr -> *entry
	spin    int
}

type entry struct {
	state atomic.Int64
}

// New returns an empty ledger with the default spin budget.
func New() *Ledger {
	return NewWithSpin(defaultSpin)
}

// NewWithSpin returns an empty ledger with a custom CAS retry budget.
func NewWithSpin(spin int) *Ledger {
	if spin < 1 {
		spin = 1
	}
	return &Ledger{spin: spin}
}

// lookup returns the live entry for id, creating one if needed.
func (l *Ledger) lookup(id uintptr) *entry {
	if e, ok := l.entries.Load(id); ok {
		return e.(*entry)
	}
	e, _ := l.entries.LoadOrStore(id, &entry{})
	return e.(*entry)
}

// TryBorrowShared attempts a shared borrow of id. It succeeds unless the
// identity is exclusively borrowed, in which case it reports the conflict
// by returning false.
func (l *Ledger) TryBorrowShared(id uintptr) bool {
	for {
		e := l.lookup(id)
		attempt := 0
		for {
			s := e.state.Load()
			if s == stateExclusive {
				return false
			}
			if s == stateDead {
				break // entry removed under us, refetch
			}
			if e.state.CompareAndSwap(s, s+1) {
				return true
			}
			if attempt++; attempt%l.spin == 0 {
				runtime.Gosched()
			}
		}
	}
}

// TryBorrowExclusive attempts an exclusive borrow of id. It succeeds only
// when the identity is completely unborrowed.
func (l *Ledger) TryBorrowExclusive(id uintptr) bool {
	for {
		e := l.lookup(id)
		attempt := 0
		for {
			s := e.state.Load()
			if s == stateDead {
				break // entry removed under us, refetch
			}
			if s != stateFree {
				return false
			}
			if e.state.CompareAndSwap(stateFree, stateExclusive) {
				return true
			}
			if attempt++; attempt%l.spin == 0 {
				runtime.Gosched()
			}
		}
	}
}

// ReleaseShared drops one shared borrow of id. Releasing an identity that
// is not share-borrowed is a programming error and panics.
func (l *Ledger) ReleaseShared(id uintptr) {
	e, ok := l.entries.Load(id)
	if !ok {
		panic("ledger: shared release without borrow")
	}
	ent := e.(*entry)
	for {
		s := ent.state.Load()
		if s <= stateFree {
			panic("ledger: shared release without borrow")
		}
		if ent.state.CompareAndSwap(s, s-1) {
			if s-1 == stateFree {
				l.reap(id, ent)
			}
			return
		}
	}
}

// ReleaseExclusive drops the exclusive borrow of id. Releasing an identity
// that is not exclusively borrowed is a programming error and panics.
func (l *Ledger) ReleaseExclusive(id uintptr) {
	e, ok := l.entries.Load(id)
	if !ok {
		panic("ledger: exclusive release without borrow")
	}
	ent := e.(*entry)
	if !ent.state.CompareAndSwap(stateExclusive, stateFree) {
		panic("ledger: exclusive release without borrow")
	}
	l.reap(id, ent)
}

// reap opportunistically removes a free entry so the table stays bounded by
// the number of outstanding borrows. The dead marker keeps a racing borrower
// from recording a borrow on the unlinked entry.
func (l *Ledger) reap(id uintptr, ent *entry) {
	if ent.state.CompareAndSwap(stateFree, stateDead) {
		l.entries.CompareAndDelete(id, ent)
	}
}

// Len counts live entries; one entry exists per identity with at least one
// outstanding borrow, plus at most transient free entries mid-reap.
func (l *Ledger) Len() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

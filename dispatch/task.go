package dispatch

import (
	"sync/atomic"

	"github.com/chazu/tether/guard"
	"github.com/chazu/tether/host"
	"github.com/chazu/tether/memory"
)

// ---------------------------------------------------------------------------
// Task: one unit of dispatched native work
// ---------------------------------------------------------------------------

// TaskFunc is the body of a dispatched task. It runs on a pool worker inside
// a task-local frame stack; the scope's frame is popped when the task ends.
// A host exception or native panic raised by the body is captured at the
// guard boundary and recorded as the task's outcome.
//
// A returned reference must be rooted in the task's scope (or be the absent
// value). When the task completes it moves to a root held by the handle, so
// it stays live until the caller re-roots it and releases the handle.
type TaskFunc func(*memory.Scope) host.Ref

// TaskState describes where a task is in its lifecycle.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type task struct {
	fn     TaskFunc
	state  atomic.Int32
	done   chan struct{}
	result guard.Result
	root   *resultRoot
	wake   WakeToken
}

func newTask(fn TaskFunc, wake WakeToken) *task {
	t := &task{fn: fn, done: make(chan struct{}), wake: wake}
	t.state.Store(int32(TaskPending))
	return t
}

// resultRoot keeps the host references escaping a completed task rooted
// until the caller has re-rooted them. It is adopted as its own context
// while the task frame still roots the references, so they are never left
// unrooted in between.
type resultRoot struct {
	host     host.Runtime
	token    host.ContextToken
	refs     []host.Ref
	released atomic.Bool
}

func (r *resultRoot) VisitRoots(visit func(host.Ref)) {
	for _, ref := range r.refs {
		visit(ref)
	}
}

func (r *resultRoot) release() {
	if r.released.CompareAndSwap(false, true) {
		r.host.ReleaseContext(r.token)
	}
}

// retain adopts a root holding the references that escape through res: the
// returned value, and the caught exception's value. Must run while the task
// frame rooting them is still live.
func (t *task) retain(h host.Runtime, res guard.Result) {
	var refs []host.Ref
	if res.Kind() == guard.OK && !res.Value().IsNil() {
		refs = append(refs, res.Value())
	}
	if thrown := res.Thrown(); thrown != nil && !thrown.Value.IsNil() {
		refs = append(refs, thrown.Value)
	}
	if len(refs) == 0 {
		return
	}
	r := &resultRoot{host: h, refs: refs}
	r.token = h.AdoptContext(r)
	t.root = r
}

// complete records the outcome and releases waiters. Called exactly once,
// by the worker that ran the task.
func (t *task) complete(res guard.Result) {
	t.result = res
	if res.Kind() == guard.OK {
		t.state.Store(int32(TaskCompleted))
	} else {
		t.state.Store(int32(TaskFailed))
	}
	close(t.done)
}

// A TaskHandle is the caller's view of a submitted task. Dropping the handle
// abandons the wait; it never stops execution, none of the dispatch
// primitives support preemptive cancellation.
//
// The handle roots the host references in the task's outcome. A handle whose
// result carries references must be released once the caller has re-rooted
// what it keeps; until then the values are pinned.
type TaskHandle struct {
	t *task
}

// State returns the task's current lifecycle state.
func (h *TaskHandle) State() TaskState {
	return TaskState(h.t.state.Load())
}

// Wait blocks until the task has run and returns its tagged outcome. Host
// references in the result stay rooted by the handle until Release.
func (h *TaskHandle) Wait() guard.Result {
	<-h.t.done
	return h.t.result
}

// Release drops the handle's result roots. Any reference taken from the
// result must be re-rooted first; after Release the next collection may
// reclaim it. Release waits for the task to complete and is idempotent.
func (h *TaskHandle) Release() {
	<-h.t.done
	if h.t.root != nil {
		h.t.root.release()
	}
}

// TryResult returns the outcome without blocking; ok is false while the
// task has not completed.
func (h *TaskHandle) TryResult() (res guard.Result, ok bool) {
	select {
	case <-h.t.done:
		return h.t.result, true
	default:
		return guard.Result{}, false
	}
}

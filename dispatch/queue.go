// Package dispatch implements the core's Dispatch Queue: a thread-safe
// FIFO of zero-argument closures, decoupling producers (any goroutine
// calling Enqueue, directly or via signal.Emit/backend readiness) from
// the single consumer (the app.Runtime loop goroutine draining it).
//
// The storage is github.com/eapache/queue's ring-buffer-backed Queue,
// guarded by a mutex plus a condition variable for the loop's wakeup —
// generalizing the teacher's bounded channel-of-Event inbox
// (core/concurrency.EventLoop) to the spec's unbounded FIFO-of-closures:
// Enqueue must never block or reject (the teacher's Push returns false
// when its channel is full, which the dispatch queue's contract forbids).
package dispatch

import (
	"sync"

	"github.com/eapache/queue"
)

// Closure is a zero-argument deferred invocation, as enqueued by signal
// emits, backend readiness callbacks, and timer expirations.
type Closure func()

// Queue is the FIFO described above. The zero value is not usable; use
// New.
type Queue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	q            *queue.Queue
	closed       bool
	waker        func()
	panicHandler func(recovered any)
}

// New returns an empty Queue.
func New() *Queue {
	d := &Queue{q: queue.New()}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// SetWaker attaches w as the hook Enqueue invokes after every append, in
// addition to signaling Wait's condition variable. app.Runtime wires this
// to Backend.Wake so that a producer on another goroutine — Quit, or a
// signal emitted off the loop goroutine — can interrupt a Poll call already blocked in epoll_wait, not just a
// goroutine parked in Wait. w must be safe to call with no locks held and
// must not itself call back into this Queue.
func (d *Queue) SetWaker(w func()) {
	d.mu.Lock()
	d.waker = w
	d.mu.Unlock()
}

// EnqueueAll appends every closure in cs under a single critical section
// and wakes/signals only once, so that callers pushing a whole batch (a
// signal's subscriber list, for instance) never have their closures
// interleaved with another goroutine's batch at the per-closure level —
// only at the whole-batch level. Equivalent to, but cheaper and
// order-preserving versus, calling Enqueue once per closure.
func (d *Queue) EnqueueAll(cs []Closure) {
	if len(cs) == 0 {
		return
	}
	d.mu.Lock()
	for _, c := range cs {
		d.q.Add(c)
	}
	waker := d.waker
	d.mu.Unlock()
	d.cond.Signal()
	if waker != nil {
		waker()
	}
}

// Enqueue appends c, wakes one waiter in Wait, and invokes the waker set
// by SetWaker, if any. It never blocks beyond the critical section, and a
// Closure may itself call Enqueue again (the lock is not held while
// closures run, only while the queue is mutated).
func (d *Queue) Enqueue(c Closure) {
	d.EnqueueAll([]Closure{c})
}

// SetPanicRecover attaches h as the handler DrainOne invokes when a
// closure panics, in place of letting the panic escape and kill the loop
// goroutine. h receives the recovered value; it must not itself call back
// into this Queue or panic. Unset (the zero value), a panicking closure's
// recovered value is discarded, matching the teacher's bare
// `defer func() { _ = recover() }()`.
func (d *Queue) SetPanicRecover(h func(recovered any)) {
	d.mu.Lock()
	d.panicHandler = h
	d.mu.Unlock()
}

// Len returns the number of pending closures. Used by app.Runtime to
// compute the next poll timeout (spec: zero timeout when non-empty).
func (d *Queue) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.q.Length()
}

// DrainOne pops and invokes one closure, if the queue is non-empty, and
// reports whether it did. The closure runs with no lock held, so it may
// safely call Enqueue on this same Queue. A panicking closure is
// recovered here — this is the drain boundary — and handed to the
// SetPanicRecover handler, if any, so one misbehaving subscriber never
// stops the loop from dispatching the rest.
func (d *Queue) DrainOne() bool {
	d.mu.Lock()
	if d.q.Length() == 0 {
		d.mu.Unlock()
		return false
	}
	c := d.q.Remove().(Closure)
	handler := d.panicHandler
	d.mu.Unlock()
	func() {
		defer func() {
			if rec := recover(); rec != nil && handler != nil {
				handler(rec)
			}
		}()
		c()
	}()
	return true
}

// Drain invokes DrainOne until the queue is empty, calling shouldStop
// once before each closure it is about to run (never once the queue is
// found empty); it returns early (without draining further) the first
// time shouldStop reports true. Closures enqueued by a running closure
// are appended and run later in the same Drain. This realizes the loop's
// "drain the dispatch queue to empty, invoking each closure; between
// closures, re-check the quit flag."
func (d *Queue) Drain(shouldStop func() bool) {
	for {
		if d.Len() == 0 {
			return
		}
		if shouldStop != nil && shouldStop() {
			return
		}
		if !d.DrainOne() {
			return
		}
	}
}

// Wait blocks until the queue is non-empty or Close is called, whichever
// happens first. It returns false if Close fired with no work pending.
// app.Runtime does not call Wait: its loop blocks in the backend's poll,
// which the waker set by SetWaker interrupts, and the queue's length
// feeds the poll timeout computation instead.
func (d *Queue) Wait() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.q.Length() == 0 && !d.closed {
		d.cond.Wait()
	}
	return d.q.Length() > 0
}

// Close wakes any goroutine blocked in Wait. Idempotent.
func (d *Queue) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Package app implements the core's Application Loop: the single thread
// that drives backend polling, timer expiry, and dispatch-queue drain.
// This replaces original_source's Application class, whose exec/quit and
// condition-variable/queue pair were process-wide statics (`static
// lockable<std::queue<vfunc>> m_signal_queue`); per the core's design
// notes on the "Global state" redesign, Runtime is an explicit value
// constructed by main/cmd/pdtkecho and passed around, never a package
// global.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/GravisZro/pdtk/backend"
	"github.com/GravisZro/pdtk/dispatch"
	"github.com/GravisZro/pdtk/object"
	"github.com/GravisZro/pdtk/pdtklog"
	"github.com/GravisZro/pdtk/timer"
	"go.uber.org/zap"
)

// State is one point in the Runtime's lifecycle:
// Constructed -> Running -> Quitting -> Terminated.
type State int

const (
	Constructed State = iota
	Running
	Quitting
	Terminated
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "Constructed"
	case Running:
		return "Running"
	case Quitting:
		return "Quitting"
	case Terminated:
		return "Terminated"
	default:
		return "unknown"
	}
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithLogger attaches a logger for lifecycle transitions and
// per-cycle diagnostics. Defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Runtime) { r.log = log }
}

// WithClock overrides the timer wheel's notion of "now". Defaults to
// time.Now; tests substitute a controllable clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.nowFunc = now }
}

// Runtime is the application loop described by the core's Application
// Loop component: it owns the Backend it polls, the Dispatch Queue
// results and signal emissions feed, the Timer Wheel contributing to the
// computed poll timeout, and the Object handle table subscriber
// lifetimes are checked against.
type Runtime struct {
	mu       sync.Mutex
	state    State
	quitCode int

	backend *backend.Backend
	queue   *dispatch.Queue
	timers  *timer.Wheel
	objects *object.Table
	log     *zap.SugaredLogger
	nowFunc func() time.Time
}

// New constructs a Runtime driving b. b must already be initialized
// (backend.New) by the caller; Runtime does not own its construction,
// only its polling and teardown is left to the caller's Close.
func New(b *backend.Backend, opts ...Option) *Runtime {
	r := &Runtime{
		state:   Constructed,
		backend: b,
		queue:   dispatch.New(),
		objects: object.NewTable(),
		log:     pdtklog.Nop(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.timers = timer.New(r.nowFunc)
	r.queue.SetWaker(b.Wake)
	r.queue.SetPanicRecover(func(rec any) {
		r.log.Errorw("recovered panic in dispatch closure", "panic", rec)
	})
	return r
}

// Queue returns the dispatch queue signals and backend callbacks should
// be wired to emit/enqueue onto.
func (r *Runtime) Queue() *dispatch.Queue { return r.queue }

// Timers returns the timer wheel new deadlines should be scheduled on.
func (r *Runtime) Timers() *timer.Wheel { return r.timers }

// Objects returns the handle table object.Base.Init calls should anchor
// new subscriber-capable objects to.
func (r *Runtime) Objects() *object.Table { return r.objects }

// State reports the Runtime's current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Quit enqueues a closure that transitions the Runtime to Quitting and
// records code as the eventual exit code, guaranteeing the transition is
// observed only at a safe point between dispatch-queue closures or
// between poll cycles, never mid-callback. Safe to call from any
// goroutine, including from within a running callback. If Quit has
// already committed a code (this call or an earlier one), later calls
// leave the stored code untouched: the first commit wins.
func (r *Runtime) Quit(code int) {
	r.queue.Enqueue(func() {
		r.mu.Lock()
		if r.state != Quitting {
			r.state = Quitting
			r.quitCode = code
		}
		r.mu.Unlock()
	})
}

// safeCall invokes cb, recovering and logging any panic rather than
// letting it escape — the timer-fire path's own drain boundary, matching
// the dispatch queue's DrainOne recovery so an expired timer's callback
// can never take down the loop.
func (r *Runtime) safeCall(cb timer.Callback) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("recovered panic in timer callback", "panic", rec)
		}
	}()
	cb()
}

func (r *Runtime) quitting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Quitting
}

// Exec drives the main cycle until Quit is observed or ctx is canceled,
// realizing spec's five-step Application Loop algorithm exactly:
//  1. if quitting, return the stored exit code.
//  2. poll the backend for the computed timeout.
//  3. enqueue a closure per backend result and per expired timer.
//  4. drain the dispatch queue, rechecking the quit flag between closures.
//  5. repeat.
func (r *Runtime) Exec(ctx context.Context) (int, error) {
	r.mu.Lock()
	if r.state != Constructed {
		code := r.quitCode
		r.mu.Unlock()
		return code, nil
	}
	r.state = Running
	r.mu.Unlock()
	r.log.Info("runtime starting")

	// ctx cancellation must interrupt a Poll already blocked in
	// epoll_wait, not just be noticed between cycles, so it gets the same
	// Backend.Wake treatment as Quit rather than a plain select/default
	// check in the loop below.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.state != Quitting {
				r.state = Quitting
				r.quitCode = 0
			}
			r.mu.Unlock()
			r.backend.Wake()
		case <-stopWatch:
		}
	}()

	for {
		if r.quitting() {
			break
		}

		results, err := r.backend.Poll(r.computeTimeoutMs())
		if err != nil {
			r.log.Warnw("poll error", "err", err)
		}

		for _, cb := range r.timers.Fire() {
			cb := cb
			r.queue.Enqueue(func() { r.safeCall(cb) })
		}
		for _, res := range results {
			if cb, ok := r.backend.Lookup(res); ok {
				res, cb := res, cb
				r.queue.Enqueue(func() { cb(res) })
			}
		}

		r.queue.Drain(r.quitting)
	}

	r.mu.Lock()
	r.state = Terminated
	code := r.quitCode
	r.mu.Unlock()
	r.log.Infow("runtime terminated", "code", code)
	return code, nil
}

// computeTimeoutMs realizes spec's timeout computation: zero if the
// dispatch queue already has work, the earliest timer deadline if one is
// pending, or -1 (block forever) otherwise.
func (r *Runtime) computeTimeoutMs() int {
	if r.queue.Len() > 0 {
		return 0
	}
	if d, has := r.timers.NextDeadline(); has {
		if d <= 0 {
			return 0
		}
		return int(d/time.Millisecond) + 1
	}
	return -1
}

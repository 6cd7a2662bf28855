//go:build linux

package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/GravisZro/pdtk/backend"
	"github.com/GravisZro/pdtk/object"
	"github.com/GravisZro/pdtk/signal"
)

func TestRuntimeQuitStopsExec(t *testing.T) {
	b, err := backend.New()
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	defer b.Close()

	r := New(b)

	done := make(chan struct{})
	var code int
	go func() {
		code, _ = r.Exec(context.Background())
		close(done)
	}()

	// Give Exec a chance to enter its poll cycle before quitting.
	time.Sleep(10 * time.Millisecond)
	r.Quit(7)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return after Quit")
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
	if r.State() != Terminated {
		t.Fatalf("expected Terminated, got %s", r.State())
	}
}

// Property 6: multiple Quit calls leave the exit code at the
// first-committed value.
func TestRuntimeQuitIdempotent(t *testing.T) {
	b, err := backend.New()
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	defer b.Close()

	r := New(b)

	done := make(chan struct{})
	var code int
	go func() {
		code, _ = r.Exec(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	r.Quit(1)
	r.Quit(2)
	r.Quit(3)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return after Quit")
	}
	if code != 1 {
		t.Fatalf("expected first-committed exit code 1, got %d", code)
	}
}

func TestRuntimeContextCancelStopsExec(t *testing.T) {
	b, err := backend.New()
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	defer b.Close()

	r := New(b)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Exec(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return after context cancel")
	}
}

// S1: a repeating timer drives a signal emission which a connected slot
// observes, end to end through Runtime.Exec, matching the core's
// data-flow description (timer -> dispatch queue -> signal delivery).
func TestRuntimeTimerDrivesSignalEmission(t *testing.T) {
	b, err := backend.New()
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	defer b.Close()

	r := New(b)

	type tick struct{ n int }
	sig := signal.New[tick]()

	var received struct {
		object.Base
		count int
	}
	received.Init(r.Objects())
	sig.ConnectMethod(r.Objects(), received.Handle(), func(ev tick) {
		received.count = ev.n
		if ev.n >= 3 {
			r.Quit(0)
		}
	})

	n := 0
	r.Timers().Start(5*time.Millisecond, true, func() {
		n++
		sig.Emit(r.Queue(), tick{n: n})
	})

	code, err := r.Exec(context.Background())
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if received.count < 3 {
		t.Fatalf("expected at least 3 ticks observed, got %d", received.count)
	}
}

// S1b: combining a readiness watch with a timer — a pipe write wakes the
// backend poll independently of the timer deadline.
func TestRuntimeBackendReadinessAlongsideTimer(t *testing.T) {
	b, err := backend.New()
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	defer b.Close()

	r := New(b)

	rpipe, wpipe, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer rpipe.Close()
	defer wpipe.Close()

	fired := make(chan struct{}, 1)
	if err := b.Add(int(rpipe.Fd()), backend.Readable, func(backend.Result) {
		select {
		case fired <- struct{}{}:
		default:
		}
		r.Quit(0)
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A far-off pending deadline makes Exec poll with a long timeout, so
	// only the readiness event can end the wait within the test's bound.
	r.Timers().Start(time.Hour, false, func() {})

	done := make(chan struct{})
	go func() {
		r.Exec(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	wpipe.Write([]byte("x"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return after readiness event")
	}
	select {
	case <-fired:
	default:
		t.Fatal("readiness callback was never invoked")
	}
}

// A panicking timer callback must not stop the loop from running the
// timers scheduled after it, or from reaching Quit.
func TestRuntimeSurvivesPanickingTimerCallback(t *testing.T) {
	b, err := backend.New()
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	defer b.Close()

	r := New(b)

	var survivorRan bool
	r.Timers().Start(1*time.Millisecond, false, func() { panic("boom") })
	r.Timers().Start(5*time.Millisecond, false, func() {
		survivorRan = true
		r.Quit(0)
	})

	done := make(chan struct{})
	go func() {
		r.Exec(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return after the surviving timer fired")
	}
	if !survivorRan {
		t.Fatal("expected the timer scheduled after the panicking one to still run")
	}
}

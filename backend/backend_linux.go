//go:build linux

package backend

import (
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/GravisZro/pdtk/pdtkerr"
	"github.com/GravisZro/pdtk/pdtklog"
	"go.uber.org/zap"
)

const maxEvents = 256

type fdEntry struct {
	flags FlagSet
	cb    Callback
}

type pathEntry struct {
	path  string
	flags FlagSet
	cb    Callback
}

type procEntry struct {
	flags FlagSet
	cb    Callback
}

// Backend is the unified event multiplexer described in the core's
// component design: one epoll instance whose watch set includes
// user-registered fds plus the backend's own inotify and (optionally)
// netlink process-connector fds, so that a single Poll call observes all
// three. Grounded on the teacher's reactor/epoll_reactor.go epollReactor,
// generalized from single-purpose fd readiness to the three-stream
// multiplex original_source/specialized/eventbackend.cpp implements.
type Backend struct {
	mu sync.Mutex

	epfd int

	fds   map[int]*fdEntry
	paths map[int32]*pathEntry
	procs map[int32][]*procEntry

	inotifyFD int
	procFD    int // -1 when the process-events subsystem is disabled
	wakeFD    int

	wantProc bool
	log      *zap.SugaredLogger

	closed bool
}

// Option configures a Backend at construction.
type Option func(*Backend)

// WithProcessEvents requests the netlink process connector be attempted
// in New. Per the core's failure semantics, failure to bind it (most
// commonly insufficient privilege) is non-fatal: the subsystem is simply
// disabled and WatchProc returns errors with code
// pdtkerr.CodeSubsystemUnavailable, rather than New failing.
func WithProcessEvents(enabled bool) Option {
	return func(b *Backend) { b.wantProc = enabled }
}

// WithLogger attaches a logger for diagnostics (process-events subsystem
// disablement). Defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(b *Backend) { b.log = log }
}

// New allocates and initializes a Backend: the OS wait primitive
// (epoll), the path-watcher primitive (inotify), and — if
// WithProcessEvents(true) was given — the process-event primitive
// (netlink connector), registering the latter two as fds inside the
// first. Calling New twice without an intervening Close is not
// supported; each Backend owns its OS handles exclusively.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{
		fds:    make(map[int]*fdEntry),
		paths:  make(map[int32]*pathEntry),
		procs:  make(map[int32][]*procEntry),
		procFD: -1,
		log:    pdtklog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &pdtkerr.FatalInitError{Primitive: "epoll", Err: err}
	}
	b.epfd = epfd

	inofd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, &pdtkerr.FatalInitError{Primitive: "inotify", Err: err}
	}
	b.inotifyFD = inofd
	if err := b.epollAdd(inofd, unix.EPOLLIN); err != nil {
		unix.Close(inofd)
		unix.Close(epfd)
		return nil, &pdtkerr.FatalInitError{Primitive: "inotify", Err: err}
	}

	if b.wantProc {
		pfd, err := initProcConnector()
		if err != nil {
			b.log.Warnw("process events connector unavailable, disabling process watches", "err", err)
			b.procFD = -1
		} else {
			b.procFD = pfd
			if err := b.epollAdd(pfd, unix.EPOLLIN); err != nil {
				b.log.Warnw("could not register process events fd with epoll, disabling", "err", err)
				unix.Close(pfd)
				b.procFD = -1
			}
		}
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		if b.procFD >= 0 {
			unix.Close(b.procFD)
		}
		unix.Close(inofd)
		unix.Close(epfd)
		return nil, &pdtkerr.FatalInitError{Primitive: "eventfd", Err: err}
	}
	b.wakeFD = wakefd
	if err := b.epollAdd(wakefd, unix.EPOLLIN); err != nil {
		unix.Close(wakefd)
		if b.procFD >= 0 {
			unix.Close(b.procFD)
		}
		unix.Close(inofd)
		unix.Close(epfd)
		return nil, &pdtkerr.FatalInitError{Primitive: "eventfd", Err: err}
	}

	return b, nil
}

func (b *Backend) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return ignoringEINTR(func() error { return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev) })
}

// Close releases every OS handle owned by this Backend. Idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.procFD >= 0 {
		unix.Close(b.procFD)
	}
	unix.Close(b.wakeFD)
	unix.Close(b.inotifyFD)
	err := unix.Close(b.epfd)
	b.fds = nil
	b.paths = nil
	b.procs = nil
	return err
}

// Add registers or updates fd's readiness watch. If fd is already
// registered, the new flags and callback atomically replace the old ones
// from the loop's perspective (both the epoll_ctl call and the map update
// happen under Backend.mu).
func (b *Backend) Add(fd int, flags FlagSet, cb Callback) error {
	if !flags.isFDGroup() {
		return pdtkerr.New("backend.Add", pdtkerr.CodeInvalidArgument, nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pdtkerr.New("backend.Add", pdtkerr.CodeClosed, nil)
	}

	ev := unix.EpollEvent{Events: toNativeFD(flags), Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if _, exists := b.fds[fd]; exists {
		op = unix.EPOLL_CTL_MOD
	}
	if err := ignoringEINTR(func() error { return unix.EpollCtl(b.epfd, op, fd, &ev) }); err != nil {
		return pdtkerr.New("backend.Add", pdtkerr.CodeResourceExhausted, err)
	}
	b.fds[fd] = &fdEntry{flags: flags, cb: cb}
	return nil
}

// WatchPath registers path with the inotify instance and attaches cb as
// the callback invoked for events observed on the returned watch
// descriptor. The original source's watch_path returns only a wd and
// expects the caller to attach a callback through a separate connect
// call keyed by that wd; this port takes cb directly and Poll resolves
// it into each Result (see Result.cb), so a wd that numerically equals a
// registered fd never picks up that fd's callback, and folding
// attachment into one call removes an out-of-band step.
func (b *Backend) WatchPath(path string, flags FlagSet, cb Callback) (int32, error) {
	if !flags.isFileGroup() {
		return 0, pdtkerr.New("backend.WatchPath", pdtkerr.CodeInvalidArgument, nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, pdtkerr.New("backend.WatchPath", pdtkerr.CodeClosed, nil)
	}

	wd, err := unix.InotifyAddWatch(b.inotifyFD, path, toNativeFile(flags))
	if err != nil {
		return 0, pdtkerr.New("backend.WatchPath", pdtkerr.CodeInvalidArgument, err)
	}
	b.paths[int32(wd)] = &pathEntry{path: path, flags: flags, cb: cb}
	return int32(wd), nil
}

// WatchProc registers interest in pid's lifecycle events. Multiple
// subscribers may watch the same pid independently; each call adds a
// distinct entry. If the process-events subsystem failed to initialize
// (insufficient privilege in New) or was not requested, WatchProc returns
// an error with code pdtkerr.CodeSubsystemUnavailable and registers
// nothing.
func (b *Backend) WatchProc(pid int32, flags FlagSet, cb Callback) error {
	if !flags.IsProcessGroup() {
		return pdtkerr.New("backend.WatchProc", pdtkerr.CodeInvalidArgument, nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pdtkerr.New("backend.WatchProc", pdtkerr.CodeClosed, nil)
	}
	if b.procFD < 0 {
		return pdtkerr.New("backend.WatchProc", pdtkerr.CodeSubsystemUnavailable, nil)
	}
	b.procs[pid] = append(b.procs[pid], &procEntry{flags: flags, cb: cb})
	return nil
}

// Remove unregisters an fd, path watch, or process watch, depending on
// key's kind. See RemoveKey's doc for why this replaced the original's
// flags-integer dispatch.
func (b *Backend) Remove(key RemoveKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pdtkerr.New("backend.Remove", pdtkerr.CodeClosed, nil)
	}

	switch key.kind {
	case removeFD:
		if _, ok := b.fds[key.fd]; !ok {
			return pdtkerr.New("backend.Remove", pdtkerr.CodeNotFound, nil)
		}
		_ = ignoringEINTR(func() error { return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, key.fd, nil) })
		delete(b.fds, key.fd)
		return nil
	case removePath:
		if _, ok := b.paths[key.wd]; !ok {
			return pdtkerr.New("backend.Remove", pdtkerr.CodeNotFound, nil)
		}
		if _, err := unix.InotifyRmWatch(b.inotifyFD, uint32(key.wd)); err != nil {
			return pdtkerr.New("backend.Remove", pdtkerr.CodeInvalidArgument, err)
		}
		delete(b.paths, key.wd)
		return nil
	case removeProc:
		if _, ok := b.procs[key.pid]; !ok {
			return pdtkerr.New("backend.Remove", pdtkerr.CodeNotFound, nil)
		}
		delete(b.procs, key.pid)
		return nil
	default:
		return pdtkerr.New("backend.Remove", pdtkerr.CodeInvalidArgument, nil)
	}
}

// Poll waits up to timeoutMs (negative = forever, zero = non-blocking)
// and returns the Results observed in this cycle. On a wait error it
// returns a nil slice and the error; a timeout with nothing ready returns
// an empty, non-nil slice and a nil error.
func (b *Backend) Poll(timeoutMs int) ([]Result, error) {
	var events [maxEvents]unix.EpollEvent
	var n int
	err := ignoringEINTR(func() error {
		var e error
		n, e = unix.EpollWait(b.epfd, events[:], timeoutMs)
		return e
	})
	if err != nil {
		return nil, pdtkerr.New("backend.Poll", pdtkerr.CodeInvalidArgument, err)
	}

	results := make([]Result, 0, n)

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < n; i++ {
		ev := events[i]
		fd := int(ev.Fd)

		switch {
		case fd == b.wakeFD:
			var buf [8]byte
			unix.Read(b.wakeFD, buf[:])
		case fd == b.inotifyFD:
			results = append(results, b.drainInotifyLocked()...)
		case b.procFD >= 0 && fd == b.procFD:
			results = append(results, b.drainProcLocked()...)
		default:
			entry, ok := b.fds[fd]
			if !ok {
				continue // stale/removed fd; drop per failure semantics
			}
			results = append(results, Result{
				Key:   int32(fd),
				Flags: fromNativeFD(ev.Events),
				cb:    entry.cb,
			})
		}
	}
	return results, nil
}

// Lookup returns the callback r was resolved to when Poll produced it
// (see Result.cb), and whether one was resolved at all. It does not
// re-check the live fds/paths/procs maps: a Remove racing between Poll
// and Lookup does not retract a Result already handed out, matching
// Poll's own snapshot-at-wait-time semantics — by the time Lookup runs,
// the event already happened. ok is false only when no callback was ever
// attached to r.
func (b *Backend) Lookup(r Result) (Callback, bool) {
	return r.cb, r.cb != nil
}

// Wake interrupts a Backend.Poll call blocked in epoll_wait, from any
// goroutine, without otherwise disturbing the watch set. The dispatch
// queue's waker hook calls this so that Enqueue (including Quit and
// signal emission from outside the loop goroutine) is observed promptly
// even when the loop is parked with an infinite or long timeout.
// Grounded on the self-pipe/eventfd wakeup idiom in
// joeycumines-go-utilpkg/eventloop/wakeup_linux.go.
func (b *Backend) Wake() {
	var one [8]byte
	one[7] = 1
	for {
		_, err := unix.Write(b.wakeFD, one[:])
		if err == syscall.EINTR {
			continue
		}
		return
	}
}

// ignoringEINTR retries fn while it reports EINTR, matching
// original_source's posix::ignore_interruption wrapper: every blocking
// syscall in the backend must be interruption-transparent to callers.
func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if err == syscall.EINTR {
			continue
		}
		return err
	}
}

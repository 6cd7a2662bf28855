// Command pdtkecho is a smoke-test binary wiring the backend, timer wheel,
// and application loop (with the dispatch queue it owns) together into a
// minimal TCP echo server. It does not use the signal/slot package.
// Echoed bytes are framed as-is (protocol framing is out of scope); the
// accept/read wiring follows examples/reactor_echo/main.go's shape:
// register a listener fd, accept within its callback, register the
// accepted connection's own fd for reads.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/GravisZro/pdtk/app"
	"github.com/GravisZro/pdtk/backend"
	"github.com/GravisZro/pdtk/pdtklog"
	"golang.org/x/sys/unix"
)

func getFD(sc interface{ SyscallConn() (syscall.RawConn, error) }) (int, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if err := raw.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return -1, err
	}
	return fd, nil
}

func main() {
	addr := flag.String("addr", ":9002", "listen address")
	flag.Parse()

	log := pdtklog.New()
	defer log.Sync()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalw("listen failed", "err", err)
	}
	defer ln.Close()
	log.Infow("listening", "addr", *addr)

	b, err := backend.New(backend.WithLogger(log))
	if err != nil {
		log.Fatalw("backend init failed", "err", err)
	}
	defer b.Close()

	rt := app.New(b, app.WithLogger(log))

	tcpLn := ln.(*net.TCPListener)
	lfd, err := getFD(tcpLn)
	if err != nil {
		log.Fatalw("could not obtain listener fd", "err", err)
	}

	acceptCB := func(backend.Result) {
		conn, err := tcpLn.AcceptTCP()
		if err != nil {
			log.Warnw("accept failed", "err", err)
			return
		}
		cfd, err := getFD(conn)
		if err != nil {
			log.Warnw("could not obtain conn fd", "err", err)
			conn.Close()
			return
		}
		log.Infow("accepted connection", "remote", conn.RemoteAddr(), "fd", cfd)

		readCB := func(backend.Result) {
			buf := make([]byte, 4096)
			n, err := unix.Read(cfd, buf)
			if err != nil || n == 0 {
				log.Infow("connection closed", "fd", cfd, "err", err)
				b.Remove(backend.FDKey(cfd))
				conn.Close()
				return
			}
			if _, err := unix.Write(cfd, buf[:n]); err != nil {
				log.Warnw("write failed", "fd", cfd, "err", err)
				b.Remove(backend.FDKey(cfd))
				conn.Close()
			}
		}
		if err := b.Add(cfd, backend.Readable, readCB); err != nil {
			log.Warnw("could not register connection fd", "err", err)
			conn.Close()
		}
	}
	if err := b.Add(lfd, backend.Readable, acceptCB); err != nil {
		log.Fatalw("could not register listener fd", "err", err)
	}

	// A repeating timer only to demonstrate the timer wheel contributing
	// to the loop's computed poll timeout alongside fd readiness.
	rt.Timers().Start(30*time.Second, true, func() {
		log.Info("heartbeat")
	})

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code, err := rt.Exec(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
	}
	os.Exit(code)
}

//go:build linux

package backend

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// inotifyEventHeaderSize is sizeof(struct inotify_event) without the
// trailing variable-length name.
const inotifyEventHeaderSize = 16 // wd(4) + mask(4) + cookie(4) + len(4)

// inotifyReadBufSize follows original_source's sizing rule: room for at
// least 16 maximum-size inotify records (NAME_MAX+1 each).
const inotifyReadBufSize = (inotifyEventHeaderSize + unix.NAME_MAX + 1) * 16

// drainInotifyLocked reads one buffer's worth of inotify records off the
// backend's own readable fd and translates each into a Result carrying
// the portable file-event flags, per the core's "Dispatch of one poll
// wakeup" algorithm for the path-watcher's fd. Callers must hold b.mu.
func (b *Backend) drainInotifyLocked() []Result {
	var buf [inotifyReadBufSize]byte
	var n int
	err := ignoringEINTR(func() error {
		var e error
		n, e = unix.Read(b.inotifyFD, buf[:])
		return e
	})
	if err != nil || n <= 0 {
		return nil
	}

	var results []Result
	off := 0
	for off+inotifyEventHeaderSize <= n {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
		wd := raw.Wd
		mask := raw.Mask
		nameLen := int(raw.Len)

		if entry, ok := b.paths[wd]; ok {
			results = append(results, Result{
				Key:   wd,
				Flags: fromNativeFile(mask),
				cb:    entry.cb,
			})
		}
		off += inotifyEventHeaderSize + nameLen
	}
	return results
}

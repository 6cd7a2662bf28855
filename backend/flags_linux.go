//go:build linux

package backend

import "golang.org/x/sys/unix"

// fromNativeFD and toNativeFD translate epoll's native event bits,
// grounded on original_source/specialized/eventbackend.cpp's
// from_native_fdflags/to_native_fdflags.
func fromNativeFD(native uint32) FlagSet {
	var f FlagSet
	if native&unix.EPOLLERR != 0 {
		f |= Error
	}
	if native&unix.EPOLLHUP != 0 {
		f |= Disconnected
	}
	if native&unix.EPOLLIN != 0 {
		f |= Readable
	}
	if native&unix.EPOLLOUT != 0 {
		f |= Writable
	}
	if native&unix.EPOLLET != 0 {
		f |= EdgeTrigger
	}
	return f
}

func toNativeFD(f FlagSet) uint32 {
	var native uint32
	if f.Has(Error) {
		native |= unix.EPOLLERR
	}
	if f.Has(Disconnected) {
		native |= unix.EPOLLHUP
	}
	if f.Has(Readable) {
		native |= unix.EPOLLIN
	}
	if f.Has(Writable) {
		native |= unix.EPOLLOUT
	}
	if f.Has(EdgeTrigger) {
		native |= unix.EPOLLET
	}
	return native
}

// fromNativeFile and toNativeFile translate inotify's native mask,
// grounded on the same source's from_native_fileflags/to_native_fileflags.
func fromNativeFile(mask uint32) FlagSet {
	var f FlagSet
	if mask&unix.IN_ACCESS != 0 {
		f |= ReadEvent
	}
	if mask&unix.IN_MODIFY != 0 {
		f |= WriteEvent
	}
	if mask&unix.IN_ATTRIB != 0 {
		f |= AttributeMod
	}
	if mask&unix.IN_MOVE_SELF != 0 {
		f |= Moved
	}
	return f
}

func toNativeFile(f FlagSet) uint32 {
	var mask uint32
	if f.Has(ReadEvent) {
		mask |= unix.IN_ACCESS
	}
	if f.Has(WriteEvent) {
		mask |= unix.IN_MODIFY
	}
	if f.Has(AttributeMod) {
		mask |= unix.IN_ATTRIB
	}
	if f.Has(Moved) {
		mask |= unix.IN_MOVE_SELF
	}
	return mask
}

// Process-event "what" bits. x/sys/unix does not export the cn_proc.h
// enum (it's not part of the generated netlink constants), so these are
// named locally, matching linux/cn_proc.h's proc_event::what values.
const (
	procEventFork = 0x00000001
	procEventExec = 0x00000002
	procEventUID  = 0x00000004
	procEventGID  = 0x00000040
	procEventSID  = 0x00000080
	procEventExit = 0x80000000
)

func fromNativeProc(what uint32) FlagSet {
	var f FlagSet
	if what&procEventExec != 0 {
		f |= ExecEvent
	}
	if what&procEventExit != 0 {
		f |= ExitEvent
	}
	if what&procEventFork != 0 {
		f |= ForkEvent
	}
	if what&procEventUID != 0 {
		f |= UIDEvent
	}
	if what&procEventGID != 0 {
		f |= GIDEvent
	}
	if what&procEventSID != 0 {
		f |= SIDEvent
	}
	return f
}

func toNativeProc(f FlagSet) uint32 {
	var what uint32
	if f.Has(ExecEvent) {
		what |= procEventExec
	}
	if f.Has(ExitEvent) {
		what |= procEventExit
	}
	if f.Has(ForkEvent) {
		what |= procEventFork
	}
	if f.Has(UIDEvent) {
		what |= procEventUID
	}
	if f.Has(GIDEvent) {
		what |= procEventGID
	}
	if f.Has(SIDEvent) {
		what |= procEventSID
	}
	return what
}

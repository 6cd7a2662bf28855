//go:build linux

package backend

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

// Netlink process connector constants. cn_proc.h's enum values aren't
// exported by x/sys/unix, so they're named locally, matching
// linux/connector.h and linux/cn_proc.h.
const (
	cnIdxProc = 0x1
	cnValProc = 0x1

	procCnMcastListen = 1

	nlmsgHdrSize = 16 // sizeof(struct nlmsghdr)
	cnMsgSize    = 20 // sizeof(struct cn_msg)
)

// initProcConnector opens and subscribes to the netlink process events
// connector, grounded on original_source/specialized/eventbackend.cpp's
// procnotify_t constructor: a NETLINK_CONNECTOR socket bound to the
// CN_IDX_PROC multicast group, followed by a PROC_CN_MCAST_LISTEN control
// message. Binding this socket requires CAP_NET_ADMIN; callers treat
// failure here as non-fatal (see WithProcessEvents's doc).
func initProcConnector() (int, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_CONNECTOR)
	if err != nil {
		return -1, err
	}

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: cnIdxProc, Pid: uint32(os.Getpid())}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	msg := encodeMcastOp(uint32(os.Getpid()), procCnMcastListen)
	if err := unix.Send(fd, msg, 0); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// encodeMcastOp builds the nlmsghdr + cn_msg + proc_cn_mcast_op datagram
// procnotify_t's constructor sends to subscribe/unsubscribe. All fields
// are little-endian on every Linux arch Go supports for this connector.
func encodeMcastOp(pid uint32, op uint32) []byte {
	const total = nlmsgHdrSize + cnMsgSize + 4
	buf := make([]byte, total)
	le := binary.LittleEndian

	le.PutUint32(buf[0:4], uint32(total)) // nlmsg_len
	le.PutUint16(buf[4:6], unix.NLMSG_DONE)
	le.PutUint16(buf[6:8], 0) // nlmsg_flags
	le.PutUint32(buf[8:12], 0)
	le.PutUint32(buf[12:16], pid)

	le.PutUint32(buf[16:20], cnIdxProc)
	le.PutUint32(buf[20:24], cnValProc)
	le.PutUint32(buf[24:28], 0) // seq
	le.PutUint32(buf[28:32], 0) // ack
	le.PutUint16(buf[32:34], 4) // len of payload (the mcast op)
	le.PutUint16(buf[34:36], 0) // flags

	le.PutUint32(buf[36:40], op)
	return buf
}

// procEventHeaderOffset is where proc_event's {what, cpu, timestamp_ns}
// begins within a received datagram, past the nlmsghdr and cn_msg.
const procEventHeaderOffset = nlmsgHdrSize + cnMsgSize

// procEventUnionOffset is where proc_event's anonymous union of
// per-kind payloads begins. Every variant (fork, exec, exit, ...) leads
// with process_pid then process_tgid at this offset, so those two
// fields can always be read regardless of "what".
const procEventUnionOffset = procEventHeaderOffset + 8 /* what+cpu */ + 8 /* timestamp_ns */

const procRecvBufSize = 4096

// drainProcLocked reads every pending process-connector datagram and
// resolves each against b.procs, matching the original's getevents loop:
// read the non-blocking connector fd until it reports nothing more queued,
// decode proc_event.what into portable flags, then intersect against
// every subscriber registered for that pid (a pid may have more than one
// watcher, each with its own flag interest). Callers must hold b.mu.
func (b *Backend) drainProcLocked() []Result {
	var results []Result
	var buf [procRecvBufSize]byte

	for {
		var n int
		err := ignoringEINTR(func() error {
			var e error
			n, e = unix.Read(b.procFD, buf[:])
			return e
		})
		if err != nil || n < procEventUnionOffset+8 {
			break
		}

		le := binary.LittleEndian
		what := le.Uint32(buf[procEventHeaderOffset : procEventHeaderOffset+4])
		flags := fromNativeProc(what)
		if flags == 0 {
			continue
		}

		pid := int32(le.Uint32(buf[procEventUnionOffset : procEventUnionOffset+4]))
		tgid := int32(le.Uint32(buf[procEventUnionOffset+4 : procEventUnionOffset+8]))

		var payload *ProcPayload
		if flags.Has(ExitEvent) && n >= procEventUnionOffset+16 {
			payload = &ProcPayload{
				Pid:        pid,
				Tgid:       tgid,
				ExitCode:   int32(le.Uint32(buf[procEventUnionOffset+8 : procEventUnionOffset+12])),
				ExitSignal: int32(le.Uint32(buf[procEventUnionOffset+12 : procEventUnionOffset+16])),
			}
		} else {
			payload = &ProcPayload{Pid: pid, Tgid: tgid}
		}

		for _, entry := range b.procs[pid] {
			if !entry.flags.Intersects(flags) {
				continue
			}
			results = append(results, Result{
				Key:   pid,
				Flags: flags & entry.flags,
				Proc:  payload,
				cb:    entry.cb,
			})
		}
	}
	return results
}

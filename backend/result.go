package backend

// ProcPayload carries the process-event fields the original connector
// message exposes, restricted to what spec's Result entity names: pid,
// tgid, exit_code, exit_signal.
type ProcPayload struct {
	Pid       int32
	Tgid      int32
	ExitCode  int32
	ExitSignal int32
}

// Result is one entry produced by a Poll cycle: a key (fd, watch
// descriptor, or pid, depending on which group Flags belongs to), the
// observed portable flags, and — only for process results — the decoded
// payload. Its lifetime is the loop iteration that produced it; Runtime
// consumes it exactly once by looking up and enqueuing its callback.
type Result struct {
	Key   int32
	Flags FlagSet
	Proc  *ProcPayload // non-nil only when Flags.IsProcessGroup()

	// cb is resolved at Poll time (see Backend.drainInotifyLocked,
	// Backend.drainProcLocked, and the fd branch of Backend.Poll) rather
	// than re-derived from a map at lookup time, since process results
	// are multi-valued per pid and a plain key->callback map can't
	// disambiguate which of several subscribers for the same pid a given
	// Result belongs to.
	cb Callback
}

package backend

// Callback is invoked by app.Runtime (not by Backend itself — see
// Backend.Lookup) once per delivered Result. The loop is the only
// component that ever calls user callbacks, always from inside a
// dispatch.Closure, per the core's single-threaded delivery model.
type Callback func(Result)

// RemoveKey tags which map Remove should mutate: fd, path watch
// descriptor, or pid. This replaces the original source's
// `flags >= ExecEvent` heuristic (Design Notes, Open Question: "mixing
// group of flags"), which broke for callers passing a combined flag set —
// a tagged union can't be ambiguous the way an overloaded integer can.
type RemoveKey struct {
	kind removeKind
	fd   int
	wd   int32
	pid  int32
}

type removeKind uint8

const (
	removeFD removeKind = iota
	removePath
	removeProc
)

// FDKey builds a RemoveKey targeting a registered fd.
func FDKey(fd int) RemoveKey { return RemoveKey{kind: removeFD, fd: fd} }

// PathKey builds a RemoveKey targeting a path-watch descriptor.
func PathKey(wd int32) RemoveKey { return RemoveKey{kind: removePath, wd: wd} }

// ProcKey builds a RemoveKey targeting every process-watch registration
// for pid.
func ProcKey(pid int32) RemoveKey { return RemoveKey{kind: removeProc, pid: pid} }

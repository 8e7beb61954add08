package sysevent

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// State is where a traced syscall currently sits.
type State int

const (
	// Entering means the syscall has not run yet.
	Entering State = iota
	// Exiting means the syscall has run and its return value is available.
	Exiting
)

func (s State) String() string {
	if s == Exiting {
		return "exiting"
	}

	return "entering"
}

// Memory reads the address space of a stopped tracee.
type Memory interface {
	ReadString(pid int, addr uint64, limit int) (string, bool, error)
	ReadBytes(pid int, addr uint64, n int) ([]byte, error)
}

// Event is one syscall of one process, built at its entry stop and completed at its exit
// stop.
type Event struct {
	Sysno uint64
	Name  string
	Pid   int
	Args  [6]uint64
	State State

	// Paused is set when another process was traced between the entry and exit stops.
	Paused bool

	// Ret is nil until the exit stop has been seen.
	Ret *uint64

	// Errno is 0 when the call succeeded.
	Errno unix.Errno

	// MemDelta is how far the program break moved, memory syscalls only.
	MemDelta *int64

	// PreCall holds the decoded argument values that had to be read before the call ran,
	// keyed by argument index.
	PreCall map[int]string

	// PostCall holds the contents of the buffer the call filled in.
	PostCall string

	call   callShape
	logger *zap.SugaredLogger
	mem    Memory
	limit  int
	style  Style
}

// IsExitCall reports whether the event terminates its process or thread.
func (e *Event) IsExitCall() bool {
	return IsExitCall(e.Name)
}

// IsMemorySyscall reports whether the event may move the program break.
func (e *Event) IsMemorySyscall() bool {
	return IsMemorySyscall(e.Name)
}

// Failed reports whether the completed call returned an error.
func (e *Event) Failed() bool {
	return e.Errno != 0
}

// Complete stores the return value read at the exit stop.
func (e *Event) Complete(ret uint64, errno unix.Errno) {
	e.Ret = &ret
	e.Errno = errno
}

// SetMemDelta records how far the program break moved during the call.
func (e *Event) SetMemDelta(delta int64) {
	e.MemDelta = &delta
}

// CapturePreCall reads the string and input buffer arguments out of the tracee. It must
// run at the entry stop: once the call runs the memory may be gone or overwritten.
func (e *Event) CapturePreCall() {
	if e.mem == nil {
		return
	}

	for _, idx := range e.call.strs {
		e.PreCall[idx] = e.readString(e.Args[idx])
	}

	if e.call.in >= 0 {
		e.PreCall[e.call.in] = e.readBuffer(e.Args[e.call.in], e.Args[e.call.in+1])
	}
}

// CapturePostCall reads the buffer a successful call filled in.
func (e *Event) CapturePostCall() {
	if e.mem == nil || e.call.out < 0 || e.Ret == nil || e.Failed() {
		return
	}

	e.PostCall = e.readBuffer(e.Args[e.call.out], *e.Ret)
}

func (e *Event) readString(addr uint64) string {
	if addr == 0 {
		return "NULL"
	}

	s, cut, err := e.mem.ReadString(e.Pid, addr, e.limit)
	if err != nil {
		e.logger.Debugw("failed to read string argument", "pid", e.Pid, "syscall", e.Name, "err", err)
		return hex(addr)
	}

	return quote([]byte(s), cut)
}

func (e *Event) readBuffer(addr uint64, size uint64) string {
	if addr == 0 {
		return "NULL"
	}

	n := int(min(size, uint64(e.limit)))
	if n == 0 {
		return `""`
	}

	bts, err := e.mem.ReadBytes(e.Pid, addr, n)
	if err != nil {
		e.logger.Debugw("failed to read buffer argument", "pid", e.Pid, "syscall", e.Name, "err", err)
		return hex(addr)
	}

	return quote(bts, size > uint64(n))
}

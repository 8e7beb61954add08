package ptrace

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StopKind classifies what a tracee reported to wait4.
type StopKind int

const (
	// StopSyscallEnter is a syscall-entry stop.
	StopSyscallEnter StopKind = iota
	// StopSyscallExit is a syscall-exit stop.
	StopSyscallExit
	// StopSignal is a signal-delivery stop; the signal is re-injected on Continue.
	StopSignal
	// StopEvent is a ptrace event stop (fork, clone, exec) or the initial stop of an
	// auto-attached child. Nothing is injected on Continue.
	StopEvent
	// StopExited means the tracee exited normally and has been reaped.
	StopExited
	// StopKilled means the tracee was terminated by a signal and has been reaped.
	StopKilled
)

func (k StopKind) String() string {
	switch k {
	case StopSyscallEnter:
		return "syscall-enter"
	case StopSyscallExit:
		return "syscall-exit"
	case StopSignal:
		return "signal"
	case StopEvent:
		return "event"
	case StopExited:
		return "exited"
	case StopKilled:
		return "killed"
	default:
		return fmt.Sprintf("stop(%d)", int(k))
	}
}

// Stop is one notification from wait4 about a single tracee.
type Stop struct {
	Pid  int
	Kind StopKind

	// Signal is the delivered signal for StopSignal and the fatal one for StopKilled.
	Signal unix.Signal

	// Event is the PTRACE_EVENT_* cause of a StopEvent, 0 for a new child's first stop.
	Event int

	// ExitStatus is set for StopExited.
	ExitStatus int
}

// Syscall reports whether the stop is at a syscall boundary.
func (s Stop) Syscall() bool {
	return s.Kind == StopSyscallEnter || s.Kind == StopSyscallExit
}

// Gone reports whether the tracee no longer exists.
func (s Stop) Gone() bool {
	return s.Kind == StopExited || s.Kind == StopKilled
}

// Registers is the architecture independent view of a syscall-stop register snapshot.
type Registers struct {
	Sysno uint64
	Args  [6]uint64
	Ret   uint64
}

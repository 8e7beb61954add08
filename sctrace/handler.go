package sctrace

import (
	"errors"
	"fmt"

	"github.com/tcassar-diss/sctrace/internal/sysevent"
	"golang.org/x/sys/unix"
)

// registersFailed classifies a failed register read of pid. last is the name of the last
// syscall seen for pid. A process that made an exit call or that no longer exists ends
// its trace cleanly, anything else is an error.
func (t *Tracer) registersFailed(pid int, state sysevent.State, last string, err error) (EndReason, error) {
	phase := "enter"
	if state == sysevent.Exiting {
		phase = "exit"
	}

	if sysevent.IsExitCall(last) {
		t.logger.Infow("tracee exited", "pid", pid, "syscall", last)

		if !t.cfg.Summary {
			t.print("\n\nSuccessfully exited\n\n")
		}

		return EndExitCall, nil
	}

	if errors.Is(err, unix.ESRCH) {
		return t.vanished(pid, "getting registers: syscall-"+phase, last, err), nil
	}

	return EndTerminated, fmt.Errorf("%w: syscall-%s of %d after %s: %w", ErrRegisters, phase, pid, last, err)
}

// vanished reports a tracee that disappeared while being traced.
func (t *Tracer) vanished(pid int, phase string, last string, err error) EndReason {
	t.logger.Infow("tracee disappeared", "pid", pid, "phase", phase, "syscall", last, "err", err)

	if !t.cfg.Summary {
		t.print(fmt.Sprintf(
			"\n\n %s error: process %d disappeared\nsyscall: %s, error: %v\n",
			phase, pid, last, unix.ESRCH,
		))
	}

	return EndVanished
}

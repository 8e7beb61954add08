package sctrace

import (
	"errors"
	"fmt"
	"time"

	"github.com/tcassar-diss/sctrace/internal/ptrace"
	"github.com/tcassar-diss/sctrace/internal/sysevent"
	"golang.org/x/sys/unix"
)

// traceSingle follows pid alone. Syscall stops strictly alternate between entry and exit;
// every other stop is handed back to the controller untouched.
func (t *Tracer) traceSingle(pid int) (EndReason, error) {
	var (
		state = sysevent.Entering
		stop  = ptrace.Stop{Pid: pid, Kind: ptrace.StopEvent}
		ev    *sysevent.Event
		start time.Time
		last  string
	)

	for {
		if err := t.ctl.Continue(stop); err != nil {
			if errors.Is(err, unix.ESRCH) {
				return t.vanished(pid, "resuming", last, err), nil
			}

			return EndTerminated, fmt.Errorf("%w: failed to resume tracee after %s: %w", ErrPrimitive, last, err)
		}

		var err error

		stop, err = t.ctl.Wait(pid)
		if err != nil {
			return EndTerminated, fmt.Errorf("%w: failed to wait for tracee after %s: %w", ErrPrimitive, last, err)
		}

		if stop.Gone() {
			t.logger.Infow("tracee terminated", "pid", pid, "stop", stop.Kind, "status", stop.ExitStatus)
			return EndTerminated, nil
		}

		if !stop.Syscall() {
			continue
		}

		// the register read below is not part of the call
		end := t.now()

		regs, err := t.ctl.Registers(pid)
		if err != nil {
			return t.registersFailed(pid, state, last, err)
		}

		switch state {
		case sysevent.Entering:
			ev = t.dec.Build(regs, pid)
			last = ev.Name

			if err := t.aboutToRun(ev); err != nil {
				return EndTerminated, err
			}

			if ev.IsExitCall() {
				t.logger.Infow("tracee made an exit call", "pid", pid, "syscall", ev.Name)
				return EndExitCall, nil
			}

			start = t.now()
			state = sysevent.Exiting

		case sysevent.Exiting:
			elapsed := end.Sub(start)

			errno, _ := CheckErrno(regs.Ret)
			ev.Complete(regs.Ret, errno)

			if err := t.aboutToExit(ev); err != nil {
				return EndTerminated, err
			}

			t.timed.Record(ev.Sysno, elapsed)

			if err := t.completed(ev); err != nil {
				return EndTerminated, err
			}

			state = sysevent.Entering
		}
	}
}

// completed prints a finished call as one line.
func (t *Tracer) completed(ev *sysevent.Event) error {
	if t.cfg.Summary || (t.cfg.FailedOnly && !ev.Failed()) {
		return nil
	}

	ev.State = sysevent.Entering
	if err := t.render(ev); err != nil {
		return err
	}

	ev.State = sysevent.Exiting

	return t.render(ev)
}

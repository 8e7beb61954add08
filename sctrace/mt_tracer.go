package sctrace

import (
	"errors"
	"fmt"

	"github.com/tcassar-diss/sctrace/internal/ptrace"
	"github.com/tcassar-diss/sctrace/internal/sysevent"
	"golang.org/x/sys/unix"
)

// forkState is the per process bookkeeping of the fork following loop.
type forkState struct {
	// inFlight holds at most one entered but not yet exited event per pid.
	inFlight map[int]*sysevent.Event

	// last is the name of the last syscall each pid entered.
	last map[int]string

	// focus is the pid of the last syscall stop.
	focus int
}

func newForkState() *forkState {
	return &forkState{
		inFlight: make(map[int]*sysevent.Event),
		last:     make(map[int]string),
	}
}

// traceForks follows root and every process it creates until none is left.
func (t *Tracer) traceForks(root int) (EndReason, error) {
	fs := newForkState()

	if err := t.ctl.Continue(ptrace.Stop{Pid: root, Kind: ptrace.StopEvent}); err != nil {
		return EndTerminated, fmt.Errorf("%w: failed to resume tracee %d: %w", ErrPrimitive, root, err)
	}

	for {
		stop, err := t.ctl.WaitAny()
		if errors.Is(err, ptrace.ErrNoTracees) {
			t.logger.Infow("no tracees left")
			return EndNoTracees, nil
		}
		if err != nil {
			return EndTerminated, fmt.Errorf("%w: failed to wait for tracees: %w", ErrPrimitive, err)
		}

		pid := stop.Pid

		switch stop.Kind {
		case ptrace.StopSyscallEnter:
			ok, err := t.forkEnter(fs, pid)
			if err != nil {
				return EndTerminated, err
			}
			if !ok {
				t.purge(fs, pid)
				continue
			}

		case ptrace.StopSyscallExit:
			ok, err := t.forkExit(fs, pid)
			if err != nil {
				return EndTerminated, err
			}
			if !ok {
				t.purge(fs, pid)
				continue
			}

		case ptrace.StopExited, ptrace.StopKilled:
			t.logger.Debugw("tracee terminated", "pid", pid, "stop", stop.Kind)
			t.purge(fs, pid)

			continue
		}

		if err := t.ctl.Continue(stop); err != nil {
			if !errors.Is(err, unix.ESRCH) {
				return EndTerminated, fmt.Errorf("%w: failed to resume %d after %s: %w", ErrPrimitive, pid, fs.last[pid], err)
			}

			t.vanished(pid, "resuming", fs.last[pid], err)
			t.purge(fs, pid)
		}
	}
}

// forkEnter handles a syscall-entry stop of pid. It reports false when pid is gone and
// must not be resumed.
func (t *Tracer) forkEnter(fs *forkState, pid int) (bool, error) {
	regs, err := t.ctl.Registers(pid)
	if err != nil {
		fs.focus = pid
		return t.forkRegistersFailed(fs, pid, sysevent.Entering, err)
	}

	t.refocus(fs, pid)

	ev := t.dec.Build(regs, pid)
	fs.last[pid] = ev.Name

	t.counts.Record(ev.Sysno)

	if err := t.aboutToRun(ev); err != nil {
		return false, err
	}

	if ev.IsExitCall() {
		return true, nil
	}

	ev.State = sysevent.Exiting
	fs.inFlight[pid] = ev

	return true, nil
}

// forkExit handles a syscall-exit stop of pid. Exit stops without an in-flight event,
// such as the return of the execve that started tracing, are ignored.
func (t *Tracer) forkExit(fs *forkState, pid int) (bool, error) {
	t.refocus(fs, pid)

	regs, err := t.ctl.Registers(pid)
	if err != nil {
		return t.forkRegistersFailed(fs, pid, sysevent.Exiting, err)
	}

	ev, ok := fs.inFlight[pid]
	if !ok {
		return true, nil
	}

	delete(fs.inFlight, pid)

	errno, _ := CheckErrno(regs.Ret)
	ev.Complete(regs.Ret, errno)

	if err := t.aboutToExit(ev); err != nil {
		return false, err
	}

	if t.cfg.Summary {
		return true, nil
	}

	return true, t.render(ev)
}

// refocus marks the in-flight event of the previously traced pid as paused when another
// pid stops.
func (t *Tracer) refocus(fs *forkState, pid int) {
	if pid == fs.focus {
		return
	}

	if prev, ok := fs.inFlight[fs.focus]; ok {
		prev.Paused = true

		if !t.cfg.Summary {
			t.print(t.cfg.Style.Stopped())
		}
	}

	fs.focus = pid
}

func (t *Tracer) forkRegistersFailed(fs *forkState, pid int, state sysevent.State, err error) (bool, error) {
	if _, rerr := t.registersFailed(pid, state, fs.last[pid], err); rerr != nil {
		return false, rerr
	}

	return false, nil
}

// purge drops every piece of state held for pid.
func (t *Tracer) purge(fs *forkState, pid int) {
	delete(fs.inFlight, pid)
	delete(fs.last, pid)

	t.brk.Forget(int32(pid))
}

package ptrace

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	ErrNoCommand       = errors.New("no command to trace")
	ErrNoTracees       = errors.New("no tracees left")
	ErrExitedEarly     = errors.New("tracee exited before tracing started")
	ErrUnsupportedArch = errors.New("register layout not supported on this architecture")
)

// syscallTrap is the stop signal of a syscall stop once PTRACE_O_TRACESYSGOOD is set.
const syscallTrap = unix.SIGTRAP | 0x80

// Options configures how tracees are started and waited on.
type Options struct {
	// Command is spawned when AttachPID is zero.
	Command []string

	// AttachPID is an already running process to attach to.
	AttachPID int

	// FollowForks makes the kernel auto-attach every child the tracees create.
	FollowForks bool

	// Quiet discards the spawned command's stdout.
	Quiet bool

	// PollInterval switches WaitAny to non-blocking polling with this delay between polls.
	PollInterval time.Duration
}

// Tracer drives tracees with ptrace. Every method except Kill must be called from the
// OS thread that called Start.
type Tracer struct {
	logger    *zap.SugaredLogger
	opts      Options
	root      atomic.Int64
	known     map[int]bool
	inSyscall map[int]bool
}

func New(logger *zap.SugaredLogger, opts Options) *Tracer {
	return &Tracer{
		logger:    logger,
		opts:      opts,
		known:     make(map[int]bool),
		inSyscall: make(map[int]bool),
	}
}

// Start spawns or attaches to the root tracee and returns its pid, stopped and with
// ptrace options set.
func (t *Tracer) Start() (int, error) {
	if t.opts.AttachPID > 0 {
		return t.attach(t.opts.AttachPID)
	}

	return t.spawn()
}

func (t *Tracer) spawn() (int, error) {
	if len(t.opts.Command) == 0 {
		return 0, ErrNoCommand
	}

	path, err := exec.LookPath(t.opts.Command[0])
	if err != nil {
		return 0, fmt.Errorf("failed to find executable: %w", err)
	}

	cmd := exec.Command(path, t.opts.Command[1:]...)
	cmd.Args[0] = t.opts.Command[0]
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr
	if !t.opts.Quiet {
		cmd.Stdout = os.Stdout
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to launch application: %w", err)
	}

	pid := cmd.Process.Pid
	t.root.Store(int64(pid))

	t.logger.Infow("spawned tracee", "pid", pid, "command", t.opts.Command)

	// the child stops with SIGTRAP once execve has replaced its image
	if err := t.initial(pid, t.options()|unix.PTRACE_O_EXITKILL); err != nil {
		return 0, err
	}

	return pid, nil
}

func (t *Tracer) attach(pid int) (int, error) {
	if err := unix.PtraceAttach(pid); err != nil {
		return 0, fmt.Errorf("failed to attach to %d: %w", pid, err)
	}

	t.root.Store(int64(pid))

	t.logger.Infow("attached to tracee", "pid", pid)

	if err := t.initial(pid, t.options()); err != nil {
		return 0, err
	}

	return pid, nil
}

// initial consumes the first stop of the root tracee and sets its options.
func (t *Tracer) initial(pid int, options int) error {
	var ws unix.WaitStatus

	if _, err := wait4(pid, &ws, unix.WALL); err != nil {
		return fmt.Errorf("failed waiting for tracee %d: %w", pid, err)
	}

	if !ws.Stopped() {
		return fmt.Errorf("%w: pid %d", ErrExitedEarly, pid)
	}

	if err := unix.PtraceSetOptions(pid, options); err != nil {
		return fmt.Errorf("failed to set ptrace options on %d: %w", pid, err)
	}

	t.known[pid] = true

	return nil
}

func (t *Tracer) options() int {
	options := unix.PTRACE_O_TRACESYSGOOD | unix.PTRACE_O_TRACEEXEC
	if t.opts.FollowForks {
		options |= unix.PTRACE_O_TRACEFORK | unix.PTRACE_O_TRACEVFORK | unix.PTRACE_O_TRACECLONE
	}

	return options
}

// Continue resumes a stopped tracee until its next syscall boundary. Signal-delivery
// stops get their signal re-injected, every other stop is resumed without one.
func (t *Tracer) Continue(stop Stop) error {
	if err := unix.PtraceSyscall(stop.Pid, resumeSignal(stop)); err != nil {
		return fmt.Errorf("failed to resume %d: %w", stop.Pid, err)
	}

	return nil
}

// resumeSignal is the signal injected when stop is resumed.
func resumeSignal(stop Stop) int {
	if stop.Kind == StopSignal {
		return int(stop.Signal)
	}

	return 0
}

// Wait blocks until pid stops or terminates.
func (t *Tracer) Wait(pid int) (Stop, error) {
	var ws unix.WaitStatus

	wpid, err := wait4(pid, &ws, unix.WALL)
	if err != nil {
		return Stop{}, err
	}

	return t.classify(wpid, ws), nil
}

// WaitAny returns the next stop of any tracee, or ErrNoTracees once none is left.
func (t *Tracer) WaitAny() (Stop, error) {
	if t.opts.PollInterval <= 0 {
		return t.Wait(-1)
	}

	for {
		var ws unix.WaitStatus

		wpid, err := wait4(-1, &ws, unix.WALL|unix.WNOHANG)
		if err != nil {
			return Stop{}, err
		}

		if wpid == 0 {
			time.Sleep(t.opts.PollInterval)
			continue
		}

		return t.classify(wpid, ws), nil
	}
}

func wait4(pid int, ws *unix.WaitStatus, options int) (int, error) {
	for {
		wpid, err := unix.Wait4(pid, ws, options, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.ECHILD) {
			return 0, ErrNoTracees
		}
		if err != nil {
			return 0, fmt.Errorf("wait4 failed: %w", err)
		}

		return wpid, nil
	}
}

func (t *Tracer) classify(pid int, ws unix.WaitStatus) Stop {
	stop := Stop{Pid: pid}

	switch {
	case ws.Exited():
		stop.Kind = StopExited
		stop.ExitStatus = ws.ExitStatus()
		t.forget(pid)

	case ws.Signaled():
		stop.Kind = StopKilled
		stop.Signal = ws.Signal()
		t.forget(pid)

	case ws.Stopped():
		sig := ws.StopSignal()

		switch {
		case sig == syscallTrap:
			t.inSyscall[pid] = !t.inSyscall[pid]
			if t.inSyscall[pid] {
				stop.Kind = StopSyscallEnter
			} else {
				stop.Kind = StopSyscallExit
			}

		case sig == unix.SIGTRAP && ws.TrapCause() > 0:
			stop.Kind = StopEvent
			stop.Event = ws.TrapCause()

		case sig == unix.SIGSTOP && !t.known[pid]:
			// auto-attached children start with a SIGSTOP that must not be delivered
			stop.Kind = StopEvent
			t.known[pid] = true
			t.logger.Debugw("new tracee", "pid", pid)

		default:
			stop.Kind = StopSignal
			stop.Signal = sig
		}

	default:
		// continued; WCONTINUED is never requested
		stop.Kind = StopEvent
	}

	return stop
}

func (t *Tracer) forget(pid int) {
	delete(t.known, pid)
	delete(t.inSyscall, pid)
}

// Kill terminates a spawned root tracee. Attached processes are left alone. It is safe to
// call from any goroutine.
func (t *Tracer) Kill() {
	pid := int(t.root.Load())
	if t.opts.AttachPID > 0 || pid <= 0 {
		return
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		t.logger.Warnw("failed to kill tracee", "pid", pid, "err", err)
	}
}

// Close detaches from every tracee that is still known, letting it run on untraced.
func (t *Tracer) Close() error {
	var errs []error

	for pid := range t.known {
		if err := unix.PtraceDetach(pid); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("failed to detach from %d: %w", pid, err))
		}

		t.forget(pid)
	}

	return errors.Join(errs...)
}

// ReadString reads a NUL terminated string of at most limit bytes from the tracee. The
// second result reports whether the string was cut at limit.
func (t *Tracer) ReadString(pid int, addr uint64, limit int) (string, bool, error) {
	return readString(func(off uintptr, word []byte) (int, error) {
		return unix.PtracePeekData(pid, uintptr(addr)+off, word)
	}, addr, limit)
}

// readString reads word by word through peek until a NUL byte or limit bytes.
func readString(peek func(off uintptr, word []byte) (int, error), addr uint64, limit int) (string, bool, error) {
	var (
		buf  []byte
		word = make([]byte, 8)
	)

	// one word past limit tells a string of exactly limit bytes from a longer one
	for len(buf) <= limit {
		n, err := peek(uintptr(len(buf)), word)
		if err != nil {
			return string(buf), false, fmt.Errorf("failed to read tracee memory at %#x: %w", addr, err)
		}

		if i := bytes.IndexByte(word[:n], 0); i >= 0 {
			buf = append(buf, word[:i]...)
			if len(buf) > limit {
				return string(buf[:limit]), true, nil
			}

			return string(buf), false, nil
		}

		buf = append(buf, word[:n]...)
	}

	return string(buf[:limit]), true, nil
}

// ReadBytes reads exactly n bytes from the tracee.
func (t *Tracer) ReadBytes(pid int, addr uint64, n int) ([]byte, error) {
	out := make([]byte, n)

	if _, err := unix.PtracePeekData(pid, uintptr(addr), out); err != nil {
		return nil, fmt.Errorf("failed to read tracee memory at %#x: %w", addr, err)
	}

	return out, nil
}

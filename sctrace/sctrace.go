package sctrace

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tcassar-diss/sctrace/addrspace"
	"github.com/tcassar-diss/sctrace/internal/ptrace"
	"github.com/tcassar-diss/sctrace/internal/summary"
	"github.com/tcassar-diss/sctrace/internal/sysevent"
	"go.uber.org/zap"
)

var (
	ErrPrimitive        = errors.New("process control primitive failed")
	ErrRegisters        = errors.New("failed to read registers")
	ErrBreakUnavailable = errors.New("program break unavailable")
)

// EndReason says why a trace session stopped.
type EndReason int

const (
	// EndExitCall means the tracee made an exit call.
	EndExitCall EndReason = iota
	// EndVanished means the tracee disappeared from under the tracer.
	EndVanished
	// EndTerminated means the tracee was reaped, or tracing failed.
	EndTerminated
	// EndNoTracees means every followed process has gone.
	EndNoTracees
)

func (r EndReason) String() string {
	switch r {
	case EndExitCall:
		return "exit-call"
	case EndVanished:
		return "vanished"
	case EndTerminated:
		return "terminated"
	case EndNoTracees:
		return "no-tracees"
	default:
		return fmt.Sprintf("end(%d)", int(r))
	}
}

type Cfg struct {
	// FollowForks traces every process the tracee creates.
	FollowForks bool

	// Summary replaces per call output with an aggregation table at the end.
	Summary bool

	// FailedOnly only prints calls that returned an error. Ignored when following forks.
	FailedOnly bool

	// StatsFile is where the aggregation table is dumped as JSON, if set.
	StatsFile string

	// Style is used for the markers the loops print themselves.
	Style sysevent.Style

	// Clock times syscalls, time.Now when nil.
	Clock func() time.Time
}

// Controller drives tracees through ptrace.
type Controller interface {
	Start() (int, error)
	Continue(stop ptrace.Stop) error
	Wait(pid int) (ptrace.Stop, error)
	WaitAny() (ptrace.Stop, error)
	Registers(pid int) (ptrace.Registers, error)
	Kill()
	Close() error
}

// Decoder builds the event of the syscall a tracee is stopped in.
type Decoder interface {
	Build(regs ptrace.Registers, pid int) *sysevent.Event
}

// Tracer owns the state of one trace session.
type Tracer struct {
	cfg    Cfg
	logger *zap.SugaredLogger
	ctl    Controller
	dec    Decoder
	brk    *addrspace.BreakTracker
	timed  *summary.TimedReporter
	counts *summary.CountReporter
	out    io.Writer
	now    func() time.Time
}

// NewTracer writes trace output and the summary to out.
func NewTracer(
	cfg Cfg,
	logger *zap.SugaredLogger,
	ctl Controller,
	dec Decoder,
	brk *addrspace.BreakTracker,
	out io.Writer,
) *Tracer {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Tracer{
		cfg:    cfg,
		logger: logger,
		ctl:    ctl,
		dec:    dec,
		brk:    brk,
		timed:  summary.NewTimedReporter(logger),
		counts: summary.NewCountReporter(logger),
		out:    out,
		now:    now,
	}
}

// reporter is the aggregation table the active mode fills.
func (t *Tracer) reporter() summary.Reporter {
	if t.cfg.FollowForks {
		return t.counts
	}

	return t.timed
}

// aboutToRun handles an event whose syscall has not run yet.
func (t *Tracer) aboutToRun(ev *sysevent.Event) error {
	ev.CapturePreCall()

	if ev.IsMemorySyscall() {
		if err := t.brk.Capture(int32(ev.Pid)); err != nil {
			return fmt.Errorf("%w: %w", ErrBreakUnavailable, err)
		}
	}

	if t.cfg.Summary || !(t.cfg.FollowForks || ev.IsExitCall()) {
		return nil
	}

	return t.render(ev)
}

// aboutToExit handles an event whose syscall has run and whose result is stored.
func (t *Tracer) aboutToExit(ev *sysevent.Event) error {
	ev.CapturePostCall()

	if !ev.IsMemorySyscall() {
		return nil
	}

	pid := int32(ev.Pid)

	post, err := t.brk.Current(pid)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBreakUnavailable, err)
	}

	ev.SetMemDelta(t.brk.Delta(pid, post))

	return nil
}

func (t *Tracer) render(ev *sysevent.Event) error {
	if err := ev.Render(t.out); err != nil {
		return fmt.Errorf("failed to render event: %w", err)
	}

	return nil
}

func (t *Tracer) print(s string) {
	if _, err := io.WriteString(t.out, s); err != nil {
		t.logger.Warnw("failed to write trace output", "err", err)
	}
}

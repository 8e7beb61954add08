package sctrace_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/sctrace/addrspace"
	"github.com/tcassar-diss/sctrace/internal/ptrace"
	"github.com/tcassar-diss/sctrace/internal/sysevent"
	"github.com/tcassar-diss/sctrace/sctrace"
	"go.uber.org/zap"
)

// step is one scripted wait result together with the registers read at that stop.
type step struct {
	stop    ptrace.Stop
	regs    ptrace.Registers
	regsErr error
	waitErr error

	// before runs when the step is handed out.
	before func()
}

// fakeController replays a script of stops.
type fakeController struct {
	root  int
	steps []step
	cur   step

	// onRegisters runs on every register read.
	onRegisters func()

	// resumeErrs fails the n-th call to Continue, counting from zero.
	resumeErrs map[int]error

	resumed  []ptrace.Stop
	killCh   chan struct{}
	killOnce sync.Once
	closed   bool
}

func newFakeController(root int, steps ...step) *fakeController {
	return &fakeController{root: root, steps: steps, killCh: make(chan struct{})}
}

func (f *fakeController) Start() (int, error) {
	return f.root, nil
}

func (f *fakeController) Continue(stop ptrace.Stop) error {
	n := len(f.resumed)
	f.resumed = append(f.resumed, stop)

	return f.resumeErrs[n]
}

func (f *fakeController) next() (ptrace.Stop, error) {
	if len(f.steps) == 0 {
		return ptrace.Stop{}, ptrace.ErrNoTracees
	}

	f.cur, f.steps = f.steps[0], f.steps[1:]

	if f.cur.before != nil {
		f.cur.before()
	}

	return f.cur.stop, f.cur.waitErr
}

func (f *fakeController) Wait(int) (ptrace.Stop, error) {
	if len(f.steps) == 0 {
		return ptrace.Stop{Pid: f.root, Kind: ptrace.StopExited}, nil
	}

	return f.next()
}

func (f *fakeController) WaitAny() (ptrace.Stop, error) {
	return f.next()
}

func (f *fakeController) Registers(pid int) (ptrace.Registers, error) {
	if f.cur.stop.Pid != pid {
		return ptrace.Registers{}, fmt.Errorf("registers of %d read while %d is stopped", pid, f.cur.stop.Pid)
	}

	if f.onRegisters != nil {
		f.onRegisters()
	}

	return f.cur.regs, f.cur.regsErr
}

func (f *fakeController) Kill() {
	f.killOnce.Do(func() { close(f.killCh) })
}

func (f *fakeController) killed() bool {
	select {
	case <-f.killCh:
		return true
	default:
		return false
	}
}

func (f *fakeController) Close() error {
	f.closed = true
	return nil
}

func sysno(t *testing.T, name string) uint64 {
	nr, ok := sysevent.Number(name)
	require.True(t, ok, "unknown syscall %s", name)

	return nr
}

func enter(t *testing.T, pid int, name string, args ...uint64) step {
	regs := ptrace.Registers{Sysno: sysno(t, name)}
	copy(regs.Args[:], args)

	return step{stop: ptrace.Stop{Pid: pid, Kind: ptrace.StopSyscallEnter}, regs: regs}
}

func exit(t *testing.T, pid int, name string, ret uint64) step {
	return step{
		stop: ptrace.Stop{Pid: pid, Kind: ptrace.StopSyscallExit},
		regs: ptrace.Registers{Sysno: sysno(t, name), Ret: ret},
	}
}

// stepClock advances by a microsecond every time it is read.
func stepClock() func() time.Time {
	now := time.Unix(0, 0)

	return func() time.Time {
		now = now.Add(time.Microsecond)
		return now
	}
}

// heapDir is a fake procfs whose [heap] mapping of every pid ends at the given address.
type heapDir string

func newHeapDir(t *testing.T) heapDir {
	return heapDir(t.TempDir())
}

func (h heapDir) set(t *testing.T, end uint64) {
	line := fmt.Sprintf("555555554000-%x rw-p 00000000 00:00 0                          [heap]\n", end)
	require.NoError(t, os.WriteFile(filepath.Join(string(h), "maps"), []byte(line), 0o644))
}

func (h heapDir) tracker() *addrspace.BreakTracker {
	maps := addrspace.NewTestProcMaps(func(_ int32, file string) string { return filepath.Join(string(h), file) })

	return addrspace.NewBreakTracker(zap.NewNop().Sugar(), maps)
}

type harness struct {
	ctl    *fakeController
	tracer *sctrace.Tracer
	out    *bytes.Buffer
}

func newHarness(t *testing.T, cfg sctrace.Cfg, root int, steps ...step) *harness {
	heap := newHeapDir(t)
	heap.set(t, 0x555555556000)

	return newHarnessWithTracker(t, cfg, heap.tracker(), root, steps...)
}

func newHarnessWithTracker(
	t *testing.T,
	cfg sctrace.Cfg,
	tracker *addrspace.BreakTracker,
	root int,
	steps ...step,
) *harness {
	logger := zap.NewNop().Sugar()

	if cfg.Clock == nil {
		cfg.Clock = stepClock()
	}

	ctl := newFakeController(root, steps...)
	out := &bytes.Buffer{}
	dec := sysevent.NewDecoder(logger, nil, cfg.Style, 0)

	return &harness{
		ctl:    ctl,
		tracer: sctrace.NewTracer(cfg, logger, ctl, dec, tracker, out),
		out:    out,
	}
}

package addrspace

import (
	"fmt"

	"go.uber.org/zap"
)

// BreakTracker remembers, per traced process, the program break observed right before a
// memory syscall ran, so the break after the call can be diffed against it.
type BreakTracker struct {
	logger    *zap.SugaredLogger
	maps      *ProcMaps
	baselines map[int32]uint64
}

func NewBreakTracker(logger *zap.SugaredLogger, maps *ProcMaps) *BreakTracker {
	return &BreakTracker{
		logger:    logger,
		maps:      maps,
		baselines: make(map[int32]uint64),
	}
}

// Capture reads the current program break of pid and stores it as the new baseline.
//
// On failure the previous baseline is dropped rather than left stale.
func (b *BreakTracker) Capture(pid int32) error {
	brk, err := b.maps.ProgramBreak(pid)
	if err != nil {
		delete(b.baselines, pid)

		return fmt.Errorf("failed to capture program break of %d: %w", pid, err)
	}

	b.baselines[pid] = brk

	b.logger.Debugw("captured program break", "pid", pid, "brk", fmt.Sprintf("%#x", brk))

	return nil
}

// Current reads the program break of pid without touching its baseline.
func (b *BreakTracker) Current(pid int32) (uint64, error) {
	brk, err := b.maps.ProgramBreak(pid)
	if err != nil {
		return 0, fmt.Errorf("failed to read program break of %d: %w", pid, err)
	}

	return brk, nil
}

// Delta is how far the break of pid moved since the last Capture: positive when the heap
// grew, negative when it shrank.
func (b *BreakTracker) Delta(pid int32, post uint64) int64 {
	return int64(post - b.baselines[pid])
}

// Baseline reports the stored baseline of pid, if any.
func (b *BreakTracker) Baseline(pid int32) (uint64, bool) {
	brk, ok := b.baselines[pid]
	return brk, ok
}

// Forget drops the baseline of a process that is no longer traced.
func (b *BreakTracker) Forget(pid int32) {
	delete(b.baselines, pid)
}

package addrspace_test

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/sctrace/addrspace"
	"go.uber.org/zap"
)

func fixtureProcMaps(t *testing.T) *addrspace.ProcMaps {
	cwd, err := os.Getwd()
	require.NoError(t, err, "failed to get working directory")

	return addrspace.NewTestProcMaps(
		func(pid int32, file string) string {
			return path.Join(cwd, "test_vas", fmt.Sprint(pid), file)
		},
	)
}

func TestReadAddrSpace(t *testing.T) {
	procmaps := fixtureProcMaps(t)

	mmaps, err := procmaps.ReadAddrSpace(4242)
	require.NoError(t, err, "failed to read address space")

	require.Len(t, mmaps, 11)
	require.Equal(t, &addrspace.MemMap{
		AddrStart: 0x555555556000,
		AddrEnd:   0x55555555a000,
		Offset:    0x2000,
		PathName:  "/usr/bin/sleep",
	}, mmaps[1])
	require.Equal(t, "[heap]", mmaps[4].PathName)
	require.Equal(t, "", mmaps[5].PathName)
}

func TestReadAddrSpaceMissing(t *testing.T) {
	procmaps := fixtureProcMaps(t)

	_, err := procmaps.ReadAddrSpace(1)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestProgramBreak(t *testing.T) {
	cases := []struct {
		name     string
		pid      int32
		expected uint64
	}{
		{
			name:     "end of heap mapping",
			pid:      4242,
			expected: 0x55555557e000,
		},
		{
			name:     "start_brk without heap mapping",
			pid:      4343,
			expected: 0x55555555b000,
		},
	}

	procmaps := fixtureProcMaps(t)

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			brk, err := procmaps.ProgramBreak(c.pid)
			require.NoError(t, err)

			require.Equal(t, c.expected, brk)
		})
	}
}

func TestStartBrkInvalid(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte("12 (short) S 1 2 3\n"), 0o644))

	procmaps := addrspace.NewTestProcMaps(func(int32, string) string { return filepath.Join(dir, "stat") })

	_, err := procmaps.StartBrk(12)
	require.ErrorIs(t, err, addrspace.ErrStatInvalid)
}

func TestAssignAddr(t *testing.T) {
	cases := []struct {
		name     string
		addr     uint64
		expected string
	}{
		{
			name:     "lower bound address",
			addr:     0x7ffff7d83000,
			expected: "/usr/lib/x86_64-linux-gnu/libc.so.6",
		},
		{
			name:     "heap",
			addr:     0x55555557d000,
			expected: "[heap]",
		},
		{
			name:     "anonymous",
			addr:     0x7ffff7d80010,
			expected: "anonymous",
		},
		{
			name:     "upper bound is exclusive",
			addr:     0x7ffff7f40000,
			expected: "unmapped",
		},
	}

	procmaps := fixtureProcMaps(t)

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			name, err := procmaps.AssignAddr(c.addr, 4242)
			require.NoError(t, err)

			require.Equal(t, c.expected, name)
		})
	}
}

func TestBreakTracker(t *testing.T) {
	dir := t.TempDir()

	writeHeap := func(end uint64) {
		line := fmt.Sprintf("555555554000-%x rw-p 00000000 00:00 0                          [heap]\n", end)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "maps"), []byte(line), 0o644))
	}

	procmaps := addrspace.NewTestProcMaps(func(_ int32, file string) string { return filepath.Join(dir, file) })
	tracker := addrspace.NewBreakTracker(zap.NewNop().Sugar(), procmaps)

	writeHeap(0x555555556000)
	require.NoError(t, tracker.Capture(7))

	baseline, ok := tracker.Baseline(7)
	require.True(t, ok)
	require.Equal(t, uint64(0x555555556000), baseline)

	writeHeap(0x555555558000)
	post, err := tracker.Current(7)
	require.NoError(t, err)
	require.Equal(t, int64(0x2000), tracker.Delta(7, post))

	require.Equal(t, int64(-0x1000), tracker.Delta(7, 0x555555555000))

	tracker.Forget(7)
	_, ok = tracker.Baseline(7)
	require.False(t, ok)
}

func TestBreakTrackerCaptureFailureDropsBaseline(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "maps"),
		[]byte("1000-3000 rw-p 00000000 00:00 0 [heap]\n"),
		0o644,
	))

	procmaps := addrspace.NewTestProcMaps(func(_ int32, file string) string { return filepath.Join(dir, file) })
	tracker := addrspace.NewBreakTracker(zap.NewNop().Sugar(), procmaps)

	require.NoError(t, tracker.Capture(9))

	require.NoError(t, os.Remove(filepath.Join(dir, "maps")))
	require.Error(t, tracker.Capture(9))

	_, ok := tracker.Baseline(9)
	require.False(t, ok)
}

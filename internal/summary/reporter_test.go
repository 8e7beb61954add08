package summary_test

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/sctrace/internal/summary"
	"github.com/tcassar-diss/sctrace/internal/sysevent"
	"go.uber.org/zap"
)

func sysno(t *testing.T, name string) uint64 {
	nr, ok := sysevent.Number(name)
	require.True(t, ok, "unknown syscall %s", name)

	return nr
}

// tableRows splits a rendered table into whitespace separated fields, dropping the
// header and the separator.
func tableRows(t *testing.T, out string) [][]string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 2)

	var rows [][]string
	for _, l := range lines[2:] {
		rows = append(rows, strings.Fields(l))
	}

	return rows
}

func TestTimedReporterSingleCall(t *testing.T) {
	r := summary.NewTimedReporter(zap.NewNop().Sugar())
	r.Record(sysno(t, "openat"), time.Microsecond)

	var buf bytes.Buffer
	require.NoError(t, r.Report(&buf))

	require.Equal(t, [][]string{{"100.00", "0.000001", "1", "1", "openat"}}, tableRows(t, buf.String()))
}

func TestTimedReporterOrderAndTotals(t *testing.T) {
	r := summary.NewTimedReporter(zap.NewNop().Sugar())

	read, write, closeNr := sysno(t, "read"), sysno(t, "write"), sysno(t, "close")

	r.Record(read, 10*time.Microsecond)
	r.Record(read, 20*time.Microsecond)
	r.Record(write, 50*time.Microsecond)
	r.Record(closeNr, 30*time.Microsecond)

	rows := r.Rows()
	require.Len(t, rows, 3)

	require.Equal(t, "write", rows[0].Syscall)
	// read and close tie on time, the name breaks it
	require.Equal(t, "close", rows[1].Syscall)
	require.Equal(t, "read", rows[2].Syscall)

	var (
		calls uint64
		sum   time.Duration
		pct   float64
	)
	for _, row := range rows {
		calls += row.Calls
		sum += row.Time
		pct += row.Percent(r.Total())
	}

	require.Equal(t, uint64(4), calls)
	require.Equal(t, r.Total(), sum)
	require.InDelta(t, 100, pct, 1e-9)

	require.Equal(t, int64(15), rows[2].MicrosPerCall())
}

func TestTimedReporterZeroTotal(t *testing.T) {
	r := summary.NewTimedReporter(zap.NewNop().Sugar())
	r.Record(sysno(t, "getpid"), 0)
	r.Record(sysno(t, "getpid"), -time.Second)

	var buf bytes.Buffer
	require.NoError(t, r.Report(&buf))

	require.Equal(t, [][]string{{"0.00", "0.000000", "0", "2", "getpid"}}, tableRows(t, buf.String()))
}

func TestTimedReporterSaturates(t *testing.T) {
	r := summary.NewTimedReporter(zap.NewNop().Sugar())
	r.Record(1, math.MaxInt64-1)
	r.Record(1, time.Hour)

	rows := r.Rows()
	require.Equal(t, time.Duration(math.MaxInt64), rows[0].Time)
	require.Equal(t, uint64(2), rows[0].Calls)
}

func TestReportIdempotent(t *testing.T) {
	timed := summary.NewTimedReporter(zap.NewNop().Sugar())
	timed.Record(sysno(t, "read"), 3*time.Microsecond)
	timed.Record(sysno(t, "write"), 5*time.Microsecond)

	counts := summary.NewCountReporter(zap.NewNop().Sugar())
	counts.Record(sysno(t, "read"))
	counts.Record(sysno(t, "write"))

	for _, r := range []summary.Reporter{timed, counts} {
		var first, second bytes.Buffer

		require.NoError(t, r.Report(&first))
		require.NoError(t, r.Report(&second))

		require.Equal(t, first.String(), second.String())
	}
}

func TestCountReporter(t *testing.T) {
	r := summary.NewCountReporter(zap.NewNop().Sugar())

	for i := 0; i < 3; i++ {
		r.Record(sysno(t, "read"))
	}
	r.Record(sysno(t, "exit_group"))
	r.Record(sysno(t, "close"))

	var buf bytes.Buffer
	require.NoError(t, r.Report(&buf))

	require.Equal(t, [][]string{
		{"3", "read"},
		{"1", "close"},
		{"1", "exit_group"},
	}, tableRows(t, buf.String()))
}

func TestWriteFile(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "counts.json")

	r := summary.NewCountReporter(zap.NewNop().Sugar())
	r.Record(sysno(t, "read"))
	r.Record(sysno(t, "read"))

	require.NoError(t, r.WriteFile(fp))

	bts, err := os.ReadFile(fp)
	require.NoError(t, err)

	var rows []summary.CountStat
	require.NoError(t, json.Unmarshal(bts, &rows))

	require.Equal(t, []summary.CountStat{{SyscallNr: sysno(t, "read"), Syscall: "read", Calls: 2}}, rows)
}

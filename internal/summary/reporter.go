package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/tcassar-diss/sctrace/internal/sysevent"
	"go.uber.org/zap"
)

// Reporter renders an aggregation table at the end of a session.
type Reporter interface {
	// Report writes the table to w. Calling it again yields the same output.
	Report(w io.Writer) error

	// WriteFile dumps the rows as JSON.
	WriteFile(filepath string) error
}

// TimedReporter aggregates per syscall call counts and cumulative latency.
type TimedReporter struct {
	logger *zap.SugaredLogger
	stats  map[uint64]*TimedStat
	mu     sync.Mutex
}

func NewTimedReporter(logger *zap.SugaredLogger) *TimedReporter {
	return &TimedReporter{
		logger: logger,
		stats:  make(map[uint64]*TimedStat),
	}
}

// Record adds one call of sysno that took elapsed. Negative durations count as zero and
// the cumulative time saturates instead of wrapping.
func (r *TimedReporter) Record(sysno uint64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stat, ok := r.stats[sysno]
	if !ok {
		stat = &TimedStat{SyscallNr: sysno, Syscall: sysevent.Name(sysno)}
		r.stats[sysno] = stat
	}

	stat.Calls++
	stat.Time = saturatingAdd(stat.Time, max(elapsed, 0))
}

// Rows returns a copy of the table sorted by cumulative time, largest first.
func (r *TimedReporter) Rows() []TimedStat {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]TimedStat, 0, len(r.stats))
	for _, s := range r.stats {
		rows = append(rows, *s)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Time != rows[j].Time {
			return rows[i].Time > rows[j].Time
		}

		return rows[i].Syscall < rows[j].Syscall
	})

	return rows
}

// Total is the time spent in every recorded call.
func (r *TimedReporter) Total() time.Duration {
	var total time.Duration

	for _, row := range r.Rows() {
		total = saturatingAdd(total, row.Time)
	}

	return total
}

func (r *TimedReporter) Report(w io.Writer) error {
	rows := r.Rows()
	total := r.Total()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "% time\tseconds\tusecs/call\tcalls\tsyscall")
	fmt.Fprintln(tw, "------\t-------\t----------\t-----\t-------")

	for _, row := range rows {
		fmt.Fprintf(tw, "%.2f\t%.6f\t%d\t%d\t%s\n",
			row.Percent(total),
			row.Time.Seconds(),
			row.MicrosPerCall(),
			row.Calls,
			row.Syscall,
		)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	return nil
}

func (r *TimedReporter) WriteFile(filepath string) error {
	r.logger.Infow("saving timed stats", "path", filepath)

	return writeJSON(filepath, r.Rows())
}

// CountReporter aggregates per syscall call counts.
type CountReporter struct {
	logger *zap.SugaredLogger
	stats  map[uint64]*CountStat
	mu     sync.Mutex
}

func NewCountReporter(logger *zap.SugaredLogger) *CountReporter {
	return &CountReporter{
		logger: logger,
		stats:  make(map[uint64]*CountStat),
	}
}

// Record adds one call of sysno.
func (r *CountReporter) Record(sysno uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stat, ok := r.stats[sysno]
	if !ok {
		stat = &CountStat{SyscallNr: sysno, Syscall: sysevent.Name(sysno)}
		r.stats[sysno] = stat
	}

	stat.Calls++
}

// Rows returns a copy of the table sorted by call count, largest first.
func (r *CountReporter) Rows() []CountStat {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]CountStat, 0, len(r.stats))
	for _, s := range r.stats {
		rows = append(rows, *s)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Calls != rows[j].Calls {
			return rows[i].Calls > rows[j].Calls
		}

		return rows[i].Syscall < rows[j].Syscall
	})

	return rows
}

func (r *CountReporter) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "calls\tsyscall")
	fmt.Fprintln(tw, "-----\t-------")

	for _, row := range r.Rows() {
		fmt.Fprintf(tw, "%d\t%s\n", row.Calls, row.Syscall)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	return nil
}

func (r *CountReporter) WriteFile(filepath string) error {
	r.logger.Infow("saving count stats", "path", filepath)

	return writeJSON(filepath, r.Rows())
}

func writeJSON(filepath string, v any) error {
	bts, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshall stats: %w", err)
	}

	if err := os.WriteFile(filepath, bts, 0o644); err != nil {
		return fmt.Errorf("failed to save syscall stats: %w", err)
	}

	return nil
}

package summary

import (
	"math"
	"time"
)

// TimedStat is the aggregate of every traced call of one syscall, with the time spent in it.
type TimedStat struct {
	SyscallNr uint64        `json:"syscall_nr"`
	Syscall   string        `json:"syscall"`
	Calls     uint64        `json:"calls"`
	Time      time.Duration `json:"time_ns"`
}

// Percent is the share of total this row accounts for, 0 when total is zero.
func (s *TimedStat) Percent(total time.Duration) float64 {
	if total <= 0 {
		return 0
	}

	return float64(s.Time) / float64(total) * 100
}

// MicrosPerCall is the integer mean of the time spent per call.
func (s *TimedStat) MicrosPerCall() int64 {
	if s.Calls == 0 {
		return 0
	}

	return s.Time.Microseconds() / int64(s.Calls)
}

// CountStat is the number of traced calls of one syscall.
type CountStat struct {
	SyscallNr uint64 `json:"syscall_nr"`
	Syscall   string `json:"syscall"`
	Calls     uint64 `json:"calls"`
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}

	return a + b
}

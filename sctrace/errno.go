package sctrace

import (
	"math"

	"golang.org/x/sys/unix"
)

// maxErrnoRet is the largest return value that is never an error.
const maxErrnoRet = 4095

// CheckErrno recovers the errno of a raw syscall return value.
//
// Values up to 4095 are successes. Anything above is negated in 32 bits and kept only if
// the result names a known errno, so large addresses returned by mmap and brk are not
// mistaken for failures.
func CheckErrno(ret uint64) (unix.Errno, bool) {
	if ret <= maxErrnoRet {
		return 0, false
	}

	candidate := uint64(math.MaxUint32-uint32(ret)) + 1

	if unix.ErrnoName(unix.Errno(candidate)) == "" {
		return 0, false
	}

	return unix.Errno(candidate), true
}

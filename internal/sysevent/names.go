package sysevent

import (
	"fmt"

	"github.com/elastic/go-seccomp-bpf/arch"
)

var info, errInfo = arch.GetInfo("")

// Name converts a syscall number of the running architecture to its name. Numbers the
// table does not know are named syscall_<nr>.
func Name(sysno uint64) string {
	if errInfo == nil {
		if n, ok := info.SyscallNumbers[int(sysno)]; ok {
			return n
		}
	}

	return fmt.Sprintf("syscall_%d", sysno)
}

// Number is the inverse of Name for the running architecture.
func Number(name string) (uint64, bool) {
	if errInfo != nil {
		return 0, false
	}

	nr, ok := info.SyscallNames[name]

	return uint64(nr), ok
}

// IsExitCall reports whether name terminates the calling thread or process.
func IsExitCall(name string) bool {
	return name == "exit" || name == "exit_group"
}

// IsMemorySyscall reports whether name can move the program break or the mappings.
func IsMemorySyscall(name string) bool {
	switch name {
	case "brk", "mmap", "munmap", "mremap":
		return true
	}

	return false
}

// callShape describes how the arguments of a syscall are decoded.
type callShape struct {
	arity int

	// strs are NUL terminated string arguments, read before the call runs.
	strs []int

	// in is a buffer argument written by the caller, sized by the argument after it.
	in int

	// out is a buffer argument filled by the kernel, sized by the return value.
	out int
}

func newCall(arity int, strs ...int) callShape {
	return callShape{arity: arity, strs: strs, in: -1, out: -1}
}

func withIn(s callShape, idx int) callShape {
	s.in = idx
	return s
}

func withOut(s callShape, idx int) callShape {
	s.out = idx
	return s
}

var unknownCall = newCall(6)

var calls = map[string]callShape{
	"read":            withOut(newCall(3), 1),
	"pread64":         withOut(newCall(4), 1),
	"recvfrom":        withOut(newCall(6), 1),
	"readlink":        withOut(newCall(3, 0), 1),
	"readlinkat":      withOut(newCall(4, 1), 2),
	"getcwd":          withOut(newCall(2), 0),
	"write":           withIn(newCall(3), 1),
	"pwrite64":        withIn(newCall(4), 1),
	"sendto":          withIn(newCall(6), 1),
	"open":            newCall(3, 0),
	"openat":          newCall(4, 1),
	"creat":           newCall(2, 0),
	"stat":            newCall(2, 0),
	"lstat":           newCall(2, 0),
	"newfstatat":      newCall(4, 1),
	"statx":           newCall(5, 1),
	"access":          newCall(2, 0),
	"faccessat":       newCall(3, 1),
	"faccessat2":      newCall(4, 1),
	"execve":          newCall(3, 0),
	"execveat":        newCall(5, 1),
	"chdir":           newCall(1, 0),
	"mkdir":           newCall(2, 0),
	"mkdirat":         newCall(3, 1),
	"rmdir":           newCall(1, 0),
	"unlink":          newCall(1, 0),
	"unlinkat":        newCall(3, 1),
	"rename":          newCall(2, 0, 1),
	"renameat":        newCall(4, 1, 3),
	"renameat2":       newCall(5, 1, 3),
	"symlink":         newCall(2, 0, 1),
	"chmod":           newCall(2, 0),
	"chown":           newCall(3, 0),
	"truncate":        newCall(2, 0),
	"close":           newCall(1),
	"dup":             newCall(1),
	"dup2":            newCall(2),
	"dup3":            newCall(3),
	"fstat":           newCall(2),
	"lseek":           newCall(3),
	"ioctl":           newCall(3),
	"fcntl":           newCall(3),
	"pipe":            newCall(1),
	"pipe2":           newCall(2),
	"brk":             newCall(1),
	"mmap":            newCall(6),
	"munmap":          newCall(2),
	"mremap":          newCall(5),
	"mprotect":        newCall(3),
	"madvise":         newCall(3),
	"socket":          newCall(3),
	"connect":         newCall(3),
	"bind":            newCall(3),
	"listen":          newCall(2),
	"accept":          newCall(3),
	"accept4":         newCall(4),
	"clone":           newCall(5),
	"clone3":          newCall(2),
	"fork":            newCall(0),
	"vfork":           newCall(0),
	"wait4":           newCall(4),
	"kill":            newCall(2),
	"getpid":          newCall(0),
	"getppid":         newCall(0),
	"gettid":          newCall(0),
	"getuid":          newCall(0),
	"geteuid":         newCall(0),
	"getgid":          newCall(0),
	"getegid":         newCall(0),
	"exit":            newCall(1),
	"exit_group":      newCall(1),
	"rt_sigaction":    newCall(4),
	"rt_sigprocmask":  newCall(4),
	"rt_sigreturn":    newCall(0),
	"nanosleep":       newCall(2),
	"clock_nanosleep": newCall(4),
	"arch_prctl":      newCall(2),
	"set_tid_address": newCall(1),
	"set_robust_list": newCall(2),
	"rseq":            newCall(4),
	"prlimit64":       newCall(4),
	"getrandom":       newCall(3),
	"futex":           newCall(6),
	"sched_yield":     newCall(0),
	"uname":           newCall(1),
	"getdents64":      newCall(3),
}

func lookup(name string) callShape {
	if s, ok := calls[name]; ok {
		return s
	}

	return unknownCall
}

package ptrace

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Registers fetches the syscall registers of a stopped tracee. The raw errno is wrapped so
// callers can tell ESRCH apart.
func (t *Tracer) Registers(pid int) (Registers, error) {
	var regs unix.PtraceRegs

	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return Registers{}, fmt.Errorf("failed to get registers of %d: %w", pid, err)
	}

	return Registers{
		Sysno: regs.Orig_rax,
		Args:  [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9},
		Ret:   regs.Rax,
	}, nil
}

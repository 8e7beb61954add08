//go:build linux && !amd64

package ptrace

import "fmt"

func (t *Tracer) Registers(pid int) (Registers, error) {
	return Registers{}, fmt.Errorf("%w: pid %d", ErrUnsupportedArch, pid)
}

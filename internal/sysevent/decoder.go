package sysevent

import (
	"github.com/tcassar-diss/sctrace/internal/ptrace"
	"go.uber.org/zap"
)

// DefaultStringLimit is how many bytes of a string or buffer argument are shown.
const DefaultStringLimit = 36

// Decoder turns register snapshots into events.
type Decoder struct {
	logger      *zap.SugaredLogger
	mem         Memory
	style       Style
	stringLimit int
}

// NewDecoder reads string and buffer arguments through mem, showing at most stringLimit
// bytes of each. A nil mem leaves every argument numeric.
func NewDecoder(logger *zap.SugaredLogger, mem Memory, style Style, stringLimit int) *Decoder {
	if stringLimit <= 0 {
		stringLimit = DefaultStringLimit
	}

	return &Decoder{
		logger:      logger,
		mem:         mem,
		style:       style,
		stringLimit: stringLimit,
	}
}

// Build creates the Entering event of the syscall pid is stopped in.
func (d *Decoder) Build(regs ptrace.Registers, pid int) *Event {
	name := Name(regs.Sysno)

	return &Event{
		Sysno:   regs.Sysno,
		Name:    name,
		Pid:     pid,
		Args:    regs.Args,
		State:   Entering,
		PreCall: make(map[int]string),
		call:    lookup(name),
		logger:  d.logger,
		mem:     d.mem,
		limit:   d.stringLimit,
		style:   d.style,
	}
}

package sysevent

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Render writes the part of the event that belongs to its current state: the call and its
// arguments while Entering, the result while Exiting. Rendering an event in both states
// in turn yields one line.
func (e *Event) Render(w io.Writer) error {
	var b strings.Builder

	switch e.State {
	case Entering:
		e.renderCall(&b)

		if e.IsExitCall() {
			b.WriteString(e.style.Exited(e.Pid))
		}

	case Exiting:
		if e.Paused {
			e.renderPrefix(&b)
			b.WriteString(e.style.ansi(codeResumed, "<... "+e.Name+" resumed>"))
		}

		e.renderResult(&b)
		b.WriteString("\n")
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write %s event: %w", e.Name, err)
	}

	return nil
}

func (e *Event) renderPrefix(b *strings.Builder) {
	if e.style.ShowPid {
		fmt.Fprintf(b, "[pid %d] ", e.Pid)
	}
}

func (e *Event) renderCall(b *strings.Builder) {
	e.renderPrefix(b)

	b.WriteString(e.Name)
	b.WriteString("(")

	for i := 0; i < e.call.arity; i++ {
		if i > 0 {
			b.WriteString(", ")
		}

		if v, ok := e.PreCall[i]; ok {
			b.WriteString(v)
			continue
		}

		if i == e.call.out && e.PostCall != "" {
			b.WriteString(e.PostCall)
			continue
		}

		b.WriteString(formatArg(e.Args[i]))
	}

	b.WriteString(")")
}

func (e *Event) renderResult(b *strings.Builder) {
	if e.Ret == nil {
		b.WriteString(" = ?")
		return
	}

	if e.Failed() {
		b.WriteString(" = -1 ")
		b.WriteString(e.style.ansi(codeFailed, unix.ErrnoName(e.Errno)))
		b.WriteString(" (" + e.Errno.Error() + ")")

		return
	}

	b.WriteString(" = ")

	switch e.Name {
	case "brk", "mmap", "mremap":
		b.WriteString(hex(*e.Ret))
	default:
		b.WriteString(strconv.FormatInt(int64(*e.Ret), 10))
	}

	if e.MemDelta != nil {
		fmt.Fprintf(b, " [break %+d]", *e.MemDelta)
	}
}

func formatArg(v uint64) string {
	if v <= 0xffff {
		return strconv.FormatUint(v, 10)
	}

	// small negative numbers such as AT_FDCWD
	if int64(v) < 0 && int64(v) > -0xffff {
		return strconv.FormatInt(int64(v), 10)
	}

	// 32-bit int arguments such as fd -1 arrive without sign extension
	if v>>32 == 0 && int32(v) < 0 && int32(v) > -0xffff {
		return strconv.FormatInt(int64(int32(v)), 10)
	}

	return hex(v)
}

func hex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func quote(bts []byte, cut bool) string {
	q := strconv.Quote(string(bts))
	if cut {
		q += "..."
	}

	return q
}

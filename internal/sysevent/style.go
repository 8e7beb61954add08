package sysevent

import (
	"os"

	"github.com/mattn/go-isatty"
)

const (
	codeFailed   = "31"
	codePid      = "40"
	codeExited   = "101"
	codeStopped  = "102"
	codeResumed  = "2"
	resetSuffix  = "\033[0m"
	escapePrefix = "\033["
)

// Style controls how events are written out.
type Style struct {
	// Color enables ANSI escape codes.
	Color bool

	// ShowPid prefixes every line with the pid that made the call.
	ShowPid bool
}

// DetectColor reports whether f is a terminal that should get colored output. NO_COLOR
// disables color unconditionally.
func DetectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s Style) ansi(code, text string) string {
	if !s.Color {
		return text
	}

	return escapePrefix + code + "m" + text + resetSuffix
}

// Stopped marks that the event last printed was interrupted by another process.
func (s Style) Stopped() string {
	return " ├ " + s.ansi(codeStopped, " STOPPED ") + "\n"
}

// Exited marks that pid has made an exit call.
func (s Style) Exited(pid int) string {
	return "\n\n " + s.ansi(codePid, " "+itoa(pid)+" ") + s.ansi(codeExited, " EXITED ") + "\n"
}

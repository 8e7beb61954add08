package addrspace

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrPMEntryInvalid = errors.New("procmaps line invalid")
	ErrStatInvalid    = errors.New("proc stat invalid")
)

// HeapPath is the pathname the kernel gives the brk-managed heap mapping.
const HeapPath = "[heap]"

// startBrkField is the 1-based index of start_brk in /proc/pid/stat (linux >= 3.5).
const startBrkField = 47

var PMRegex = regexp.MustCompile(`^([0-9a-f]+)-([0-9a-f]+)\s[rwxsp-]{4}\s([0-9a-f]+)\s[0-9a-f]+:[0-9a-f]+\s\d+(?:\s+(.*))?$`)

type MemMap struct {
	AddrStart uint64
	AddrEnd   uint64
	Offset    uint64
	PathName  string
}

func (m *MemMap) contains(addr uint64) bool {
	return addr >= m.AddrStart && addr < m.AddrEnd
}

// ProcMaps reads the virtual address space of traced processes.
//
// Nothing is cached: a tracee's heap moves on every memory syscall.
type ProcMaps struct {
	logger      *zap.SugaredLogger
	pathbuilder func(pid int32, file string) string
}

// NewProcMaps is configured to look in /proc/pid for processes' address spaces.
func NewProcMaps(logger *zap.SugaredLogger) *ProcMaps {
	return &ProcMaps{
		logger:      logger,
		pathbuilder: func(pid int32, file string) string { return fmt.Sprintf("/proc/%d/%s", pid, file) },
	}
}

// NewTestProcMaps is configured with a Nop logger and a pathbuilder. pathbuilder specifies
// where to look for the maps and stat files of a pid.
func NewTestProcMaps(pathbuilder func(pid int32, file string) string) *ProcMaps {
	return &ProcMaps{
		logger:      zap.NewNop().Sugar(),
		pathbuilder: pathbuilder,
	}
}

// ReadAddrSpace returns the memory mappings of pid in the order the kernel lists them.
func (p *ProcMaps) ReadAddrSpace(pid int32) ([]*MemMap, error) {
	fp := p.pathbuilder(pid, "maps")

	f, err := os.Open(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fp, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	var mmaps []*MemMap

	for scanner.Scan() {
		l := scanner.Text()

		if l == "" {
			continue
		}

		m, err := p.parseLine(l)
		if errors.Is(err, ErrPMEntryInvalid) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to parse procmaps line: %w", err)
		}

		mmaps = append(mmaps, m)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fp, err)
	}

	if len(mmaps) == 0 {
		p.logger.Warnw("nothing in /proc/pid/maps", "pid", pid)
	}

	return mmaps, nil
}

func (p *ProcMaps) parseLine(l string) (*MemMap, error) {
	res := PMRegex.FindStringSubmatch(l)

	if len(res) != 5 {
		return nil, fmt.Errorf("%w: regex didn't match 4 expected fields", ErrPMEntryInvalid)
	}

	start, err := strconv.ParseUint(res[1], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address start %s: %w", res[1], err)
	}

	end, err := strconv.ParseUint(res[2], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address end %s: %w", res[2], err)
	}

	offset, err := strconv.ParseUint(res[3], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse offset %s: %w", res[3], err)
	}

	return &MemMap{
		AddrStart: start,
		AddrEnd:   end,
		Offset:    offset,
		PathName:  strings.TrimSpace(res[4]),
	}, nil
}

// ProgramBreak returns the current program break of pid.
//
// The break is the end of the [heap] mapping. A process that has not grown its heap yet
// has no such mapping, in which case its break still sits at start_brk.
func (p *ProcMaps) ProgramBreak(pid int32) (uint64, error) {
	mmaps, err := p.ReadAddrSpace(pid)
	if err != nil {
		return 0, fmt.Errorf("failed to read address space: %w", err)
	}

	for _, m := range mmaps {
		if m.PathName == HeapPath {
			return m.AddrEnd, nil
		}
	}

	p.logger.Debugw("no heap mapping, falling back to start_brk", "pid", pid)

	return p.StartBrk(pid)
}

// StartBrk reads the address above which the heap of pid starts.
func (p *ProcMaps) StartBrk(pid int32) (uint64, error) {
	fp := p.pathbuilder(pid, "stat")

	bts, err := os.ReadFile(fp)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", fp, err)
	}

	// comm may contain spaces and parentheses, fields resume after the last ')'
	i := bytes.LastIndexByte(bts, ')')
	if i < 0 {
		return 0, fmt.Errorf("%w: no command name in %s", ErrStatInvalid, fp)
	}

	// fields[0] is field 3 (state)
	fields := strings.Fields(string(bts[i+1:]))
	if len(fields) < startBrkField-2 {
		return 0, fmt.Errorf("%w: %d fields after command name", ErrStatInvalid, len(fields))
	}

	brk, err := strconv.ParseUint(fields[startBrkField-3], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse start_brk: %w", err)
	}

	return brk, nil
}

// AssignAddr names the mapping that contains addr.
func (p *ProcMaps) AssignAddr(addr uint64, pid int32) (string, error) {
	mmap, err := p.ReadAddrSpace(pid)
	if err != nil {
		return "", fmt.Errorf("failed to load memory map: %w", err)
	}

	for _, m := range mmap {
		if !m.contains(addr) {
			continue
		}

		if m.PathName == "" {
			return "anonymous", nil
		}

		return m.PathName, nil
	}

	return "unmapped", nil
}

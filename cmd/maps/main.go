package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/tcassar-diss/sctrace/addrspace"
	"go.uber.org/zap"
)

// maps prints the address space and program break of a process, itself by default.
func main() {
	prodLog, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	logger := prodLog.Sugar()
	defer logger.Sync()

	pid := os.Getpid()

	if len(os.Args) > 1 {
		pid, err = strconv.Atoi(os.Args[1])
		if err != nil {
			logger.Fatalw("invalid pid", "arg", os.Args[1], "err", err)
		}
	}

	pm := addrspace.NewProcMaps(logger)

	logger.Infow("getting address space", "pid", pid)

	mmap, err := pm.ReadAddrSpace(int32(pid))
	if err != nil {
		logger.Fatalw("failed to parse proc maps", "pid", pid, "err", err)
	}

	for _, m := range mmap {
		fmt.Printf("AddrStart: %#x\tAddrEnd: %#x\tOffset: %#x\tPath: %s\n", m.AddrStart, m.AddrEnd, m.Offset, m.PathName)
	}

	brk, err := pm.ProgramBreak(int32(pid))
	if err != nil {
		logger.Fatalw("failed to read program break", "pid", pid, "err", err)
	}

	fmt.Printf("program break: %#x\n", brk)
}

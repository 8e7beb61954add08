package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of sctrace",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sctrace %s\n", version)
			if commit != "none" {
				fmt.Printf("  commit: %s\n", commit)
			}
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Printf("  go:     %s\n", info.GoVersion)
			}
		},
	}
}

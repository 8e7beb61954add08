package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tcassar-diss/sctrace/addrspace"
	"github.com/tcassar-diss/sctrace/internal/ptrace"
	"github.com/tcassar-diss/sctrace/internal/sysevent"
	"github.com/tcassar-diss/sctrace/sctrace"
	"go.uber.org/zap"
)

var (
	ErrNothingToTrace  = errors.New("a command or --attach is required")
	ErrAttachOrCommand = errors.New("--attach cannot be combined with a command")
	ErrFailedWithForks = errors.New("--failed-only cannot be combined with --follow-forks")
)

type options struct {
	followForks  bool
	attach       int
	summary      bool
	failedOnly   bool
	muteStdout   bool
	stringLimit  int
	output       string
	statsFile    string
	pollInterval time.Duration
	verbose      bool
	noColor      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "sctrace [flags] [--] command [args...]",
		Short: "Trace the system calls of a process",
		Long: `sctrace runs a command, or attaches to a running process, and reports every
system call it makes together with its arguments and result. With --summary the calls
are aggregated into a table instead.`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}

	cmd.Flags().SetInterspersed(false)

	f := cmd.Flags()
	f.BoolVarP(&opts.followForks, "follow-forks", "f", false, "trace child processes as they are created")
	f.IntVarP(&opts.attach, "attach", "p", 0, "attach to a running process instead of running a command")
	f.BoolVarP(&opts.summary, "summary", "c", false, "print a summary table instead of every call")
	f.BoolVarP(&opts.failedOnly, "failed-only", "z", false, "only print calls that returned an error")
	f.BoolVarP(&opts.muteStdout, "mute-stdout", "q", false, "discard the traced command's stdout")
	f.IntVarP(&opts.stringLimit, "string-limit", "s", sysevent.DefaultStringLimit, "maximum bytes of a string argument to print")
	f.StringVarP(&opts.output, "output", "o", "", "write the trace to a file instead of stdout")
	f.StringVar(&opts.statsFile, "stats-file", "", "dump the aggregated counts as JSON to this file")
	f.DurationVar(&opts.pollInterval, "poll-interval", 0, "poll for stopped tracees at this interval instead of blocking")
	f.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (o options) validate(args []string) error {
	switch {
	case o.attach == 0 && len(args) == 0:
		return ErrNothingToTrace
	case o.attach != 0 && len(args) > 0:
		return ErrAttachOrCommand
	case o.failedOnly && o.followForks:
		return ErrFailedWithForks
	}

	return nil
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()

	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to get logger: %w", err)
	}

	return logger.Sugar(), nil
}

func run(ctx context.Context, opts options, args []string) error {
	if err := opts.validate(args); err != nil {
		return err
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	out := os.Stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()

		out = f
	}

	style := sysevent.Style{
		Color:   !opts.noColor && sysevent.DetectColor(out),
		ShowPid: opts.followForks,
	}

	ctl := ptrace.New(logger, ptrace.Options{
		Command:      args,
		AttachPID:    opts.attach,
		FollowForks:  opts.followForks,
		Quiet:        opts.muteStdout,
		PollInterval: opts.pollInterval,
	})

	tracer := sctrace.NewTracer(
		sctrace.Cfg{
			FollowForks: opts.followForks,
			Summary:     opts.summary,
			FailedOnly:  opts.failedOnly,
			StatsFile:   opts.statsFile,
			Style:       style,
		},
		logger,
		ctl,
		sysevent.NewDecoder(logger, ctl, style, opts.stringLimit),
		addrspace.NewBreakTracker(logger, addrspace.NewProcMaps(logger)),
		out,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a second interrupt terminates sctrace itself, attached tracees are never killed
	context.AfterFunc(ctx, stop)

	reason, err := tracer.Run(ctx)

	logger.Infow("trace finished", "reason", reason, "err", err)

	return err
}

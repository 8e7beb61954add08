package sctrace

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Run traces the tracee until it ends, then prints the summary and writes the stats file
// as configured.
//
// Every ptrace call is made from one goroutine locked to its OS thread. Cancelling ctx
// kills a spawned tracee, which ends the trace.
func (t *Tracer) Run(ctx context.Context) (EndReason, error) {
	var (
		group  errgroup.Group
		reason EndReason
		done   = make(chan struct{})
	)

	group.Go(func() error {
		defer close(done)

		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		var err error

		reason, err = t.trace()

		return err
	})

	group.Go(func() error {
		select {
		case <-ctx.Done():
			t.logger.Infow("trace cancelled, killing tracee", "err", ctx.Err())
			t.ctl.Kill()
		case <-done:
		}

		return nil
	})

	err := group.Wait()

	if ferr := t.finish(); ferr != nil {
		err = errors.Join(err, ferr)
	}

	return reason, err
}

func (t *Tracer) trace() (EndReason, error) {
	pid, err := t.ctl.Start()
	if err != nil {
		return EndTerminated, fmt.Errorf("failed to start tracee: %w", err)
	}

	defer func() {
		if err := t.ctl.Close(); err != nil {
			t.logger.Warnw("failed to release tracees", "err", err)
		}
	}()

	t.logger.Infow("tracing", "pid", pid, "follow-forks", t.cfg.FollowForks)

	if t.cfg.FollowForks {
		return t.traceForks(pid)
	}

	return t.traceSingle(pid)
}

// finish renders the aggregation table of the session. It runs even when tracing
// failed, the calls seen so far are still reported.
func (t *Tracer) finish() error {
	r := t.reporter()

	var errs []error

	if t.cfg.Summary {
		if err := r.Report(t.out); err != nil {
			errs = append(errs, fmt.Errorf("failed to print summary: %w", err))
		}
	}

	if t.cfg.StatsFile != "" {
		if err := r.WriteFile(t.cfg.StatsFile); err != nil {
			errs = append(errs, fmt.Errorf("failed to write stats file: %w", err))
		}
	}

	return errors.Join(errs...)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/queue"
)

// ProcessOptions holds flags for the process command.
type ProcessOptions struct {
	*RootOptions
	Watch bool
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Send queued operations to the Cart API",
		Long: `Run one pass over the offline queue.

Each ready operation is attempted once. Retryable failures stay queued
with a backoff delay; other failures are cancelled and the cart is pulled
again from the server.

With --watch the queue is processed on the configured interval until
interrupted.

Exit codes:
  0 - Pass completed, nothing cancelled
  1 - One or more operations were cancelled
  2 - Command error

Example:
  cartsync process
  cartsync process --watch --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Watch {
				return runWatch(opts, cmd)
			}
			return runProcess(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep processing until interrupted")

	return cmd
}

func runProcess(opts *ProcessOptions, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions, withConfigToken)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)
	res, err := e.engine.ProcessQueue(ctx)
	if err != nil {
		return e.fail(ExitFailure, "queue processing failed", err)
	}
	for _, r := range e.engine.Journal() {
		e.out.VerboseLog("failure %s %s/%s attempt=%d %s: %s", r.Operation, r.ProductID, r.Size, r.Attempt, r.Category, r.Message)
	}
	e.logMetrics(ctx)

	if err := e.out.Success(ProcessView{Result: res, Cart: newCartView(e.engine.Cart())}); err != nil {
		return err
	}
	if len(res.Cancelled) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) cancelled", len(res.Cancelled)))
	}
	return nil
}

func runWatch(opts *ProcessOptions, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions, withConfigToken)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	e.logger.Info("watching queue", "interval", e.cfg.Queue.ProcessInterval, "pending", e.engine.QueueStats().Total)
	fmt.Fprintln(cmd.ErrOrStderr(), "Processing queue. Press Ctrl-C to stop.")

	if err := e.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, queue.ErrAlreadyProcessing) {
			return e.fail(ExitCommandError, "queue is already being processed", err)
		}
		return e.fail(ExitFailure, "queue processing failed", err)
	}

	e.logMetrics(context.Background())
	return e.out.Success(StatusView{Sync: e.engine.SyncStatus(), Queue: e.engine.QueueStats()})
}

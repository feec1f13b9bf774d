package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts, withConfigToken)
			if err != nil {
				return err
			}
			defer e.Close()

			return e.out.Success(StatusView{
				Sync:  e.engine.SyncStatus(),
				Queue: e.engine.QueueStats(),
			})
		},
	}
}

// QueueOptions holds flags for the queue command.
type QueueOptions struct {
	*RootOptions
	Clear bool
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued operations",
		Long: `List operations waiting in the offline queue, in processing order.

With --clear the queue is emptied. The local cart keeps the effect of the
dropped operations until the next pull.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts.RootOptions, withConfigToken)
			if err != nil {
				return err
			}
			defer e.Close()

			if opts.Clear {
				n := e.engine.ClearQueue(commandContext(cmd))
				e.logger.Info("queue cleared", "count", n)
			}
			return e.out.Success(QueueView{Operations: e.engine.QueuedOperations()})
		},
	}

	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "drop every queued operation")

	return cmd
}

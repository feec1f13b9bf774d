package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Price int64
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <product> <size> <quantity>",
		Short: "Add units of a product variant",
		Long: `Add units of a product variant to the cart.

Adding an existing product and size increases its quantity. A line holds
at most 10 units.

Example:
  cartsync add SKU-1 M 2 --price 1999
  cartsync add SKU-1 M 1 --offline`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := parseQuantity(args[2])
			if err != nil {
				return err
			}
			return mutate(cmd, rootOpts, "add", func(ctx context.Context, eng *engine.Engine) (cart.State, error) {
				return eng.AddToCart(ctx, args[0], args[1], qty, opts.Price)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Price, "price", 0, "unit price in minor currency units")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <product> <size> <quantity>",
		Short: "Set the quantity of a cart line",
		Long: `Set the quantity of an existing cart line. Zero removes the line.

Example:
  cartsync update SKU-1 M 4`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := parseQuantity(args[2])
			if err != nil {
				return err
			}
			return mutate(cmd, rootOpts, "update", func(ctx context.Context, eng *engine.Engine) (cart.State, error) {
				return eng.UpdateCartItem(ctx, args[0], args[1], qty)
			})
		},
	}
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <product> <size>",
		Short: "Remove a cart line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, rootOpts, "remove", func(ctx context.Context, eng *engine.Engine) (cart.State, error) {
				return eng.RemoveFromCart(ctx, args[0], args[1])
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cart line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, rootOpts, "clear", func(ctx context.Context, eng *engine.Engine) (cart.State, error) {
				return eng.ClearCart(ctx)
			})
		},
	}
}

// CartOptions holds flags for the cart command.
type CartOptions struct {
	*RootOptions
	Pull bool
}

// NewCartCommand creates the cart command.
func NewCartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show the local cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts.RootOptions, withConfigToken)
			if err != nil {
				return err
			}
			defer e.Close()

			state := e.engine.Cart()
			if opts.Pull {
				if state, err = e.engine.Pull(commandContext(cmd)); err != nil {
					return e.fail(ExitFailure, "failed to fetch cart", err)
				}
			}
			return e.out.Success(newCartView(state))
		},
	}

	cmd.Flags().BoolVar(&opts.Pull, "pull", false, "fetch the server cart first")

	return cmd
}

// mutate runs one cart mutation and prints the resulting cart. Retryable
// failures are queued by the engine and not reported here.
func mutate(cmd *cobra.Command, opts *RootOptions, name string, fn func(context.Context, *engine.Engine) (cart.State, error)) error {
	e, err := openEnv(cmd, opts, withConfigToken)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)
	state, err := fn(ctx, e.engine)
	if err != nil {
		return e.fail(ExitFailure, name+" failed", err)
	}
	e.logger.Debug("mutation applied", "command", name, "lines", state.Len())

	if st := e.engine.QueueStats(); st.Total > 0 {
		e.out.VerboseLog("%d operation(s) queued; run \"cartsync process\" to send them", st.Total)
	}
	e.logMetrics(ctx)
	return e.out.Success(newCartView(state))
}

func parseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid quantity %q: must be a non-negative integer", s))
	}
	return n, nil
}

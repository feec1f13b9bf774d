package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/migration"
)

// MigrationView reports a login or a manual migration.
type MigrationView struct {
	Migrated bool              `json:"migrated"`
	Result   *migration.Result `json:"result,omitempty"`
	Cart     CartView          `json:"cart"`
}

func (v MigrationView) renderText(f *OutputFormatter) error {
	if v.Result == nil {
		fmt.Fprintln(f.Writer, "Logged in. No guest cart to migrate.")
		return v.Cart.renderText(f)
	}
	r := v.Result
	fmt.Fprintf(f.Writer, "Migration %s: %s (%d migrated, %d conflicts, %d failed)\n",
		r.RunID, r.Status, r.Stats.Migrated, r.Stats.Conflicts, r.Stats.Failed)
	for _, c := range r.Conflicts {
		resolved := "unresolved"
		if c.Resolved != nil {
			resolved = fmt.Sprintf("x%d at %s", c.Resolved.Quantity, f.Amount(c.Resolved.UnitPrice))
		}
		fmt.Fprintf(f.Writer, "  ~ %s guest x%d, account x%d -> %s\n", c.Key, c.Guest.Quantity, c.Server.Quantity, resolved)
	}
	for _, msg := range r.Errors {
		fmt.Fprintf(f.Writer, "  ✗ %s\n", msg)
	}
	return v.Cart.renderText(f)
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Log in and migrate the guest cart",
		Long: `Log in with a bearer token.

A non-empty guest cart is merged into the account's cart using the
configured migration strategy. Set CARTSYNC_TOKEN for later commands to
keep the session.

Exit codes:
  0 - Logged in; migration completed or nothing to migrate
  1 - Migration failed or was rolled back (retry with "cartsync migrate")
  2 - Command error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts, asGuest)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := commandContext(cmd)
			res, err := e.engine.Authenticate(ctx, newProvider(args[0]))
			e.logMetrics(ctx)
			if err != nil {
				if res != nil && e.out.Format != "json" {
					_ = e.out.Success(MigrationView{Migrated: false, Result: res, Cart: newCartView(e.engine.Cart())})
				}
				return e.fail(ExitFailure, "login failed", err)
			}
			return e.out.Success(MigrationView{
				Migrated: res != nil && res.Status == migration.StatusCompleted,
				Result:   res,
				Cart:     newCartView(e.engine.Cart()),
			})
		},
	}
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Return to an empty guest cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, rootOpts, withConfigToken)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.engine.Logout(commandContext(cmd)); err != nil {
				return e.fail(ExitFailure, "logout failed", err)
			}
			return e.out.Success(newCartView(e.engine.Cart()))
		},
	}
}

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Strategy string
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Retry a pending guest cart migration",
		Long: `Retry a guest cart migration left pending by a failed login.

Requires a session token (api.token or CARTSYNC_TOKEN).

Example:
  CARTSYNC_TOKEN=... cartsync migrate --strategy guest_wins`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", fmt.Sprintf("conflict strategy %v (default from config)", migration.Strategies))

	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions, withConfigToken)
	if err != nil {
		return err
	}
	defer e.Close()

	strategy := e.cfg.MigrationStrategy()
	if opts.Strategy != "" {
		if strategy, err = migration.ParseStrategy(opts.Strategy); err != nil {
			return WrapExitError(ExitCommandError, "invalid --strategy", err)
		}
	}

	ctx := commandContext(cmd)
	need, err := e.engine.NeedsMigration(ctx)
	if err != nil {
		return e.fail(ExitFailure, "failed to read migration state", err)
	}
	if !need {
		return e.out.Success("Nothing to migrate.")
	}

	res, err := e.engine.PerformManualMigration(ctx, migration.Options{Strategy: strategy})
	e.logMetrics(ctx)
	view := MigrationView{Migrated: err == nil && res.Status == migration.StatusCompleted, Result: &res, Cart: newCartView(e.engine.Cart())}
	if err != nil {
		if res.RunID != "" && e.out.Format != "json" {
			_ = e.out.Success(view)
		}
		return e.fail(ExitFailure, "migration failed", err)
	}
	return e.out.Success(view)
}

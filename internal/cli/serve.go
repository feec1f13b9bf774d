package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/cartapi"
	"github.com/roach88/cartsync/internal/config"
)

// ServeMockOptions holds flags for the serve-mock command.
type ServeMockOptions struct {
	*RootOptions
	Addr        string
	RequireAuth bool
}

// NewServeMockCommand creates the serve-mock command.
func NewServeMockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeMockOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Serve an in-memory Cart API",
		Long: `Serve an in-memory Cart API for development.

The cart lives in process memory and is lost on exit. With --require-auth
requests must carry a bearer JWT whose exp claim is in the future;
signatures are not checked.

Example:
  cartsync serve-mock --addr 127.0.0.1:8080
  CARTSYNC_API_URL=http://127.0.0.1:8080 cartsync add SKU-1 M 1 --price 1999`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveMock(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().BoolVar(&opts.RequireAuth, "require-auth", false, "require a bearer JWT")

	return cmd
}

func serveMock(opts *ServeMockOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())

	serverOpts := []cartapi.ServerOption{cartapi.WithServerLogger(logger)}
	if opts.RequireAuth {
		serverOpts = append(serverOpts, cartapi.WithAuthenticator(cartapi.JWTAuth(time.Now)))
	}
	srv := &http.Server{
		Handler:           cartapi.NewServer(cartapi.NewMemory(), serverOpts...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	logger.Info("mock cart api listening", "addr", ln.Addr().String(), "auth", opts.RequireAuth)
	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on http://%s. Press Ctrl-C to stop.\n", ln.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	case err := <-errCh:
		return WrapExitError(ExitFailure, "server error", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("mock cart api stopped")
	return nil
}

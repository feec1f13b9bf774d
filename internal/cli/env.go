package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/cartapi"
	"github.com/roach88/cartsync/internal/config"
	"github.com/roach88/cartsync/internal/credential"
	"github.com/roach88/cartsync/internal/engine"
	"github.com/roach88/cartsync/internal/queue"
	"github.com/roach88/cartsync/internal/retry"
	"github.com/roach88/cartsync/internal/store"
	"github.com/roach88/cartsync/internal/telemetry"
)

// env is everything one command invocation needs.
type env struct {
	cfg     config.Config
	out     *OutputFormatter
	logger  *slog.Logger
	store   store.Store
	session *credential.Session
	engine  *engine.Engine
	reader  *sdkmetric.ManualReader
	meters  *sdkmetric.MeterProvider
}

// envMode controls how the session starts.
type envMode int

const (
	// withConfigToken logs in with the configured token, if any.
	withConfigToken envMode = iota
	// asGuest ignores the configured token.
	asGuest
)

// openEnv loads configuration and wires the engine. The caller must Close
// the result.
func openEnv(cmd *cobra.Command, opts *RootOptions, mode envMode) (*env, error) {
	ctx := commandContext(cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	e := &env{
		cfg:    cfg,
		out:    NewOutputFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()),
		logger: newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr()),
	}

	e.store, err = openStore(ctx, cfg.Store)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	e.logger.Debug("store ready", "driver", cfg.Store.Driver)

	e.session = credential.NewSession()
	if mode == withConfigToken && cfg.API.Token != "" {
		e.session.Login(newProvider(cfg.API.Token))
	}

	client, err := cartapi.NewHTTPClient(cfg.API.BaseURL,
		cartapi.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		cartapi.WithRateLimit(cfg.API.RateLimit, cfg.API.Burst),
		cartapi.WithCredential(e.session),
	)
	if err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "invalid api.base_url", err)
	}

	e.reader = sdkmetric.NewManualReader()
	e.meters = sdkmetric.NewMeterProvider(sdkmetric.WithReader(e.reader))
	metrics, err := telemetry.New(e.meters)
	if err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create metrics", err)
	}

	engOpts := []engine.Option{
		engine.WithStore(e.store),
		engine.WithSession(e.session),
		engine.WithLogger(e.logger),
		engine.WithMetrics(metrics),
		engine.WithPolicy(retry.NewEngine(
			retry.WithCap(cfg.Retry.Cap),
			retry.WithJitter(cfg.Retry.Jitter),
		)),
		engine.WithStrategy(cfg.MigrationStrategy()),
		engine.WithQueueOptions(
			queue.WithCapacity(cfg.Queue.Capacity),
			queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
			queue.WithProcessInterval(cfg.Queue.ProcessInterval),
		),
	}
	if opts.Offline {
		engOpts = append(engOpts, engine.WithOffline())
	}
	e.engine, err = engine.New(ctx, client, engOpts...)
	if err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return e, nil
}

// Close releases the engine, the meter provider and the store.
func (e *env) Close() {
	if e.engine != nil {
		e.engine.Close()
	}
	if e.meters != nil {
		if err := e.meters.Shutdown(context.Background()); err != nil {
			e.logger.Warn("error shutting down metrics", "error", err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("error closing store", "error", err)
		}
	}
}

// logMetrics writes the collected metric totals in verbose mode.
func (e *env) logMetrics(ctx context.Context) {
	if !e.out.Verbose {
		return
	}
	var rm metricdata.ResourceMetrics
	if err := e.reader.Collect(ctx, &rm); err != nil {
		e.logger.Warn("failed to collect metrics", "error", err)
		return
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch d := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range d.DataPoints {
					total += dp.Value
				}
				e.out.VerboseLog("metric %s=%d", m.Name, total)
			case metricdata.Gauge[int64]:
				for _, dp := range d.DataPoints {
					e.out.VerboseLog("metric %s=%d", m.Name, dp.Value)
				}
			case metricdata.Histogram[float64]:
				var n uint64
				for _, dp := range d.DataPoints {
					n += dp.Count
				}
				e.out.VerboseLog("metric %s count=%d", m.Name, n)
			}
		}
	}
}

func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverSQLite:
		return store.OpenSQLite(cfg.Path)
	case config.DriverRedis:
		return store.OpenRedis(ctx, cfg.RedisURL(), cfg.KeyPrefix)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// newProvider returns a JWT provider for tokens that parse as JWTs and a
// static provider for anything else.
func newProvider(token string) credential.Provider {
	if p, err := credential.NewJWT(token, nil); err == nil {
		return p
	}
	return credential.NewStatic(token)
}

// commandContext returns the command's context or a background context.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// errorCode maps an engine error to a CLI error code: local cart rule
// violations get their own codes, everything else its retry category.
func errorCode(err error) string {
	switch {
	case errors.Is(err, cart.ErrQuantityLimitExceeded):
		return "E_QUANTITY_LIMIT"
	case errors.Is(err, cart.ErrItemNotFound):
		return "E_ITEM_NOT_FOUND"
	case errors.Is(err, cart.ErrInvalidItem):
		return "E_INVALID_ITEM"
	}
	return string(retry.CategoryOf(err))
}

// fail reports err and returns it with an exit code. Text output is left
// to the caller of Execute; JSON output gets an error envelope on stdout.
func (e *env) fail(code int, msg string, err error) error {
	if e.out.Format == "json" {
		_ = e.out.Error(errorCode(err), fmt.Sprintf("%s: %v", msg, err), nil)
	}
	return WrapExitError(code, msg, err)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/cartapi"
	"github.com/roach88/cartsync/internal/clock"
	"github.com/roach88/cartsync/internal/credential"
	"github.com/roach88/cartsync/internal/event"
	"github.com/roach88/cartsync/internal/migration"
	"github.com/roach88/cartsync/internal/queue"
	"github.com/roach88/cartsync/internal/retry"
	"github.com/roach88/cartsync/internal/store"
	"github.com/roach88/cartsync/internal/syncer"
	"github.com/roach88/cartsync/internal/telemetry"
)

// Engine is the application-facing cart sync engine.
type Engine struct {
	sync      *syncer.Coordinator
	queue     *queue.Queue
	migration *migration.Coordinator
	session   *credential.Session
	bus       *event.Bus
	clock     clock.Clock
	logger    *slog.Logger
	strategy  migration.Strategy
}

type config struct {
	store         store.Store
	clock         clock.Clock
	session       *credential.Session
	policy        *retry.Engine
	journal       *retry.Journal
	metrics       *telemetry.Metrics
	logger        *slog.Logger
	bus           *event.Bus
	strategy      migration.Strategy
	offline       bool
	queueOpts     []queue.Option
	migrationOpts []migration.Option
}

// Option configures an Engine.
type Option func(*config)

// WithStore sets the durable store for the local cart, the offline queue
// and the guest cart. Default: an in-memory store.
func WithStore(s store.Store) Option { return func(c *config) { c.store = s } }

// WithClock sets the time source shared by every component.
func WithClock(clk clock.Clock) Option { return func(c *config) { c.clock = clk } }

// WithSession sets the session credential. Pass the same session to the
// Cart API client so requests carry the login.
func WithSession(s *credential.Session) Option { return func(c *config) { c.session = s } }

// WithPolicy sets the retry policy engine.
func WithPolicy(e *retry.Engine) Option { return func(c *config) { c.policy = e } }

// WithJournal sets the failure journal.
func WithJournal(j *retry.Journal) Option { return func(c *config) { c.journal = j } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(c *config) { c.metrics = m } }

// WithLogger sets the base logger; components log with a "component" attribute.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithBus sets the event bus.
func WithBus(b *event.Bus) Option { return func(c *config) { c.bus = b } }

// WithStrategy sets the strategy Authenticate migrates with (default
// MergeQuantities).
func WithStrategy(s migration.Strategy) Option { return func(c *config) { c.strategy = s } }

// WithOffline starts the engine offline.
func WithOffline() Option { return func(c *config) { c.offline = true } }

// WithQueueOptions passes extra options to the offline queue.
func WithQueueOptions(opts ...queue.Option) Option {
	return func(c *config) { c.queueOpts = append(c.queueOpts, opts...) }
}

// WithMigrationOptions passes extra options to the migration coordinator.
func WithMigrationOptions(opts ...migration.Option) Option {
	return func(c *config) { c.migrationOpts = append(c.migrationOpts, opts...) }
}

// New wires an engine around api and restores any persisted cart and queue.
func New(ctx context.Context, api cartapi.API, opts ...Option) (*Engine, error) {
	c := config{strategy: migration.MergeQuantities}
	for _, opt := range opts {
		opt(&c)
	}
	if c.store == nil {
		c.store = store.NewMemory()
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.session == nil {
		c.session = credential.NewSession()
	}
	if c.policy == nil {
		c.policy = retry.NewEngine()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.bus == nil {
		c.bus = event.NewBus()
	}

	coord := syncer.New(api,
		syncer.WithPolicy(c.policy),
		syncer.WithCredential(c.session),
		syncer.WithStore(c.store),
		syncer.WithClock(c.clock),
		syncer.WithPublisher(c.bus),
		syncer.WithJournal(c.journal),
		syncer.WithMetrics(c.metrics),
		syncer.WithLogger(c.logger.With("component", "syncer")),
	)
	q := queue.New(c.store, coord, append([]queue.Option{
		queue.WithPolicy(c.policy),
		queue.WithClock(c.clock),
		queue.WithPublisher(c.bus),
		queue.WithMetrics(c.metrics),
		queue.WithLogger(c.logger.With("component", "queue")),
		queue.WithOnline(coord.Online),
		queue.WithEvictHandler(coord.Dropped),
	}, c.queueOpts...)...)
	coord.AttachQueue(q)
	mig := migration.New(coord, c.store, append([]migration.Option{
		migration.WithClock(c.clock),
		migration.WithPublisher(c.bus),
		migration.WithMetrics(c.metrics),
		migration.WithLogger(c.logger.With("component", "migration")),
	}, c.migrationOpts...)...)

	if err := coord.Restore(ctx); err != nil {
		return nil, err
	}
	if err := q.Load(ctx); err != nil {
		return nil, err
	}
	if c.offline {
		coord.SetOnline(false)
	}

	return &Engine{
		sync:      coord,
		queue:     q,
		migration: mig,
		session:   c.session,
		bus:       c.bus,
		clock:     c.clock,
		logger:    c.logger,
		strategy:  c.strategy,
	}, nil
}

// AddToCart adds quantity units of a product variant at unitPrice.
func (e *Engine) AddToCart(ctx context.Context, productID, size string, quantity int, unitPrice int64) (cart.State, error) {
	return e.sync.Mutate(ctx, cart.Add(cart.Item{
		ProductID: productID,
		Size:      size,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		AddedAt:   e.clock.Now(),
	}))
}

// UpdateCartItem sets the quantity of a line; zero removes it.
func (e *Engine) UpdateCartItem(ctx context.Context, productID, size string, quantity int) (cart.State, error) {
	return e.sync.Mutate(ctx, cart.Update(cart.NewKey(productID, size), quantity))
}

// RemoveFromCart deletes a line.
func (e *Engine) RemoveFromCart(ctx context.Context, productID, size string) (cart.State, error) {
	return e.sync.Mutate(ctx, cart.Remove(cart.NewKey(productID, size)))
}

// ClearCart empties the cart.
func (e *Engine) ClearCart(ctx context.Context) (cart.State, error) {
	return e.sync.Mutate(ctx, cart.ClearAll())
}

// Cart returns the current local cart.
func (e *Engine) Cart() cart.State { return e.sync.State() }

// SyncStatus returns the current sync status.
func (e *Engine) SyncStatus() syncer.Status { return e.sync.Status() }

// QueueStats returns offline queue statistics.
func (e *Engine) QueueStats() queue.Stats { return e.queue.Stats() }

// QueuedOperations lists queued operations in processing order.
func (e *Engine) QueuedOperations() []queue.Operation { return e.queue.Operations() }

// ClearQueue drops every queued operation and returns how many were dropped.
func (e *Engine) ClearQueue(ctx context.Context) int { return e.queue.Clear(ctx) }

// Journal returns the retained failure records, oldest first.
func (e *Engine) Journal() []retry.Record { return e.sync.Journal().Records() }

// Subscribe returns a channel of engine events. Call cancel to unsubscribe.
func (e *Engine) Subscribe(buffer int) (<-chan event.Event, func()) { return e.bus.Subscribe(buffer) }

// SetOnline records a connectivity signal. Coming back online triggers a
// queue pass when Run is active.
func (e *Engine) SetOnline(online bool) {
	was := e.sync.Online()
	e.sync.SetOnline(online)
	if online && !was {
		e.queue.Restored()
	}
}

// ProcessQueue runs one queue pass now. When operations were dropped the
// local cart no longer matches the server, so it is pulled again.
func (e *Engine) ProcessQueue(ctx context.Context) (queue.ProcessResult, error) {
	res, err := e.queue.Process(ctx)
	if err != nil {
		return res, err
	}
	if len(res.Cancelled) > 0 {
		if _, err := e.sync.Pull(ctx); err != nil {
			e.logger.Warn("resync after cancelled operations failed", "error", err)
		}
	}
	return res, nil
}

// Pull fetches the server cart and reconciles against it.
func (e *Engine) Pull(ctx context.Context) (cart.State, error) { return e.sync.Pull(ctx) }

// Authenticate logs in with p. Coming from a guest session with a
// non-empty cart, the guest cart is marked for migration and migrated with
// the configured strategy; the returned result is nil when there was
// nothing to migrate.
//
// Guest operations still queued are dropped: the guest cart snapshot
// already carries their effect, and replaying them against the account
// cart would apply them twice.
func (e *Engine) Authenticate(ctx context.Context, p credential.Provider) (*migration.Result, error) {
	if p == nil {
		return nil, errors.New("engine: nil credential")
	}
	wasGuest := !e.session.Authenticated()
	guest := e.sync.State()

	if wasGuest {
		// An empty guest cart clears whatever a previous session left
		// pending, so it is never merged into this account.
		if err := e.migration.MarkPending(ctx, guest); err != nil {
			return nil, err
		}
	}
	if wasGuest && !guest.IsEmpty() {
		if n := e.queue.Clear(ctx); n > 0 {
			e.logger.Info("dropped guest operations on login", "count", n)
		}
	}
	e.session.Login(p)

	need, err := e.migration.NeedsMigration(ctx)
	if err != nil {
		return nil, err
	}
	if !need {
		if _, err := e.sync.Pull(ctx); err != nil && !errors.Is(err, retry.ErrOffline) {
			return nil, fmt.Errorf("fetch account cart: %w", err)
		}
		return nil, nil
	}
	res, err := e.migration.Migrate(ctx, migration.Options{Strategy: e.strategy})
	return &res, err
}

// Logout returns to a guest session with an empty cart. A guest cart
// still waiting for migration belongs to the previous account and is
// dropped with it.
func (e *Engine) Logout(ctx context.Context) error {
	e.session.Logout()
	e.queue.Clear(ctx)
	_, err := e.sync.Adopt(ctx, cartapi.Snapshot{})
	return errors.Join(err, e.migration.ClearPending(ctx))
}

// NeedsMigration reports whether a guest cart is waiting to be merged.
func (e *Engine) NeedsMigration(ctx context.Context) (bool, error) {
	return e.migration.NeedsMigration(ctx)
}

// PerformManualMigration retries a pending migration with opts.
func (e *Engine) PerformManualMigration(ctx context.Context, opts migration.Options) (migration.Result, error) {
	if !e.session.Authenticated() {
		return migration.Result{}, errors.New("engine: migration requires a login")
	}
	return e.migration.Migrate(ctx, opts)
}

// Run drives background queue processing until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")
	if e.sync.Online() && e.queue.Len() > 0 {
		e.queue.Restored()
	}
	err := e.queue.Run(ctx)
	e.logger.Info("engine stopped")
	return err
}

// Close releases the event bus. The store belongs to the caller.
func (e *Engine) Close() { e.bus.Close() }

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/cartapi"
	"github.com/roach88/cartsync/internal/clock"
	"github.com/roach88/cartsync/internal/codec"
	"github.com/roach88/cartsync/internal/credential"
	"github.com/roach88/cartsync/internal/event"
	"github.com/roach88/cartsync/internal/retry"
	"github.com/roach88/cartsync/internal/store"
	"github.com/roach88/cartsync/internal/telemetry"
)

// LocalCartKey is the store key holding the local cart.
const LocalCartKey = "cart.local"

// Queue is the slice of the offline queue the coordinator needs. The
// engine wires it to *queue.Queue.
type Queue interface {
	// Enqueue hands a mutation to the queue. cause is the retryable
	// failure that sent it there, or nil when it was queued only to keep
	// order behind earlier operations.
	Enqueue(ctx context.Context, m cart.Mutation, cause *retry.Error) error
	// PendingMutations lists queued mutations not currently in flight, in
	// queue order.
	PendingMutations() []cart.Mutation
	// Blocks reports whether m must wait behind an operation already in
	// the queue, in flight or not, to keep per-line order.
	Blocks(m cart.Mutation) bool
	// Len returns the number of queued operations.
	Len() int
}

// Status is a point-in-time view of synchronization.
type Status struct {
	State             event.SyncState `json:"state"`
	Online            bool            `json:"online"`
	LastSyncedAt      time.Time       `json:"last_synced_at,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	LastCategory      retry.Category  `json:"last_category,omitempty"`
	PendingOperations int             `json:"pending_operations"`
}

// Coordinator owns the local cart state. Create one with New; the zero
// value is not usable.
type Coordinator struct {
	api     cartapi.API
	policy  *retry.Engine
	creds   credential.Provider
	store   store.Store
	clock   clock.Clock
	bus     event.Publisher
	journal *retry.Journal
	metrics *telemetry.Metrics
	logger  *slog.Logger
	queue   Queue

	// opMu serializes mutations end to end.
	opMu sync.Mutex

	mu    sync.Mutex
	state cart.State
	// base is the server cart the local cart was last rebuilt from.
	base   cart.State
	status Status
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPolicy sets the retry policy engine.
func WithPolicy(e *retry.Engine) Option { return func(c *Coordinator) { c.policy = e } }

// WithCredential sets the credential consulted before remote attempts.
func WithCredential(p credential.Provider) Option { return func(c *Coordinator) { c.creds = p } }

// WithStore persists the local cart under LocalCartKey.
func WithStore(s store.Store) Option { return func(c *Coordinator) { c.store = s } }

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option { return func(c *Coordinator) { c.clock = clk } }

// WithPublisher sets where events are sent.
func WithPublisher(p event.Publisher) Option { return func(c *Coordinator) { c.bus = p } }

// WithJournal sets the diagnostic failure journal.
func WithJournal(j *retry.Journal) Option { return func(c *Coordinator) { c.journal = j } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// New creates a coordinator for api. It starts Idle, online, with an
// empty cart; call Restore to load a persisted cart.
func New(api cartapi.API, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:    api,
		clock:  clock.Real(),
		bus:    event.Discard,
		logger: slog.Default(),
		status: Status{State: event.StateIdle, Online: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == nil {
		c.policy = retry.NewEngine()
	}
	if c.journal == nil {
		c.journal = retry.NewJournal(retry.DefaultJournalSize)
	}
	return c
}

// AttachQueue wires the offline queue. It must be called before the first
// mutation that can fail with a retryable error.
func (c *Coordinator) AttachQueue(q Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = q
}

// State returns the current local cart.
func (c *Coordinator) State() cart.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current sync status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	if c.queue != nil {
		s.PendingOperations = c.queue.Len()
	}
	return s
}

// Online reports the last connectivity signal.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Online
}

// Journal returns the diagnostic failure journal.
func (c *Coordinator) Journal() *retry.Journal { return c.journal }

// API returns the remote collaborator.
func (c *Coordinator) API() cartapi.API { return c.api }

// Restore loads the persisted local cart, if any.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Get(ctx, LocalCartKey)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore local cart: %w", err)
	}
	var pc persistedCart
	if err := codec.Unmarshal(data, &pc); err != nil {
		return fmt.Errorf("decode local cart: %w", err)
	}
	st, err := cart.NewState(pc.Items...)
	if err != nil {
		return fmt.Errorf("local cart: %w", err)
	}
	base, err := cart.NewState(pc.Base...)
	if err != nil {
		return fmt.Errorf("server cart: %w", err)
	}
	c.mu.Lock()
	c.state = st
	c.base = base
	c.mu.Unlock()
	return nil
}

// SetOnline records a connectivity signal. Going offline moves the state
// to Offline; coming back moves Offline to Syncing when operations are
// queued, or Idle otherwise.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	changed := c.status.Online != online
	c.status.Online = online
	queued := c.queue != nil && c.queue.Len() > 0
	c.mu.Unlock()

	if changed {
		c.bus.Publish(event.ConnectivityChanged{Online: online})
	}
	switch {
	case !online:
		c.setState(event.StateOffline)
	case c.currentState() == event.StateOffline && queued:
		c.setState(event.StateSyncing)
	case c.currentState() == event.StateOffline:
		c.setState(event.StateIdle)
	}
}

// EnterConflict marks that a migration is resolving conflicts.
func (c *Coordinator) EnterConflict() { c.setState(event.StateConflict) }

// Mutate applies m optimistically and attempts it remotely.
//
// Invalid mutations (quantity limit, missing line) fail before any state
// change. Retryable failures are queued and not returned: the caller sees
// the optimistic state. Business-rule failures return the corrected state
// with the error; other failures return the reverted state with the error.
func (c *Coordinator) Mutate(ctx context.Context, m cart.Mutation) (cart.State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	prior := c.State()
	next, err := cart.Apply(prior, m)
	if err != nil {
		return prior, err
	}
	c.commit(ctx, next)
	c.bus.Publish(event.OptimisticApplied{Mutation: m, Items: next.Len()})

	if !c.Online() {
		ce := retry.Classify(retry.ErrOffline)
		c.record(m, 0, ce, true)
		if err := c.enqueue(ctx, m, ce); err != nil {
			c.revert(ctx, m, prior, ce)
			return prior, err
		}
		c.setState(event.StateOffline)
		return c.State(), nil
	}

	if q := c.attachedQueue(); q != nil && q.Blocks(m) {
		if err := c.enqueue(ctx, m, nil); err != nil {
			c.revert(ctx, m, prior, nil)
			return prior, err
		}
		c.setState(event.StateSyncing)
		return c.State(), nil
	}

	c.setState(event.StateSyncing)
	snap, ce := c.attemptRemote(ctx, m, 1)
	if ce == nil {
		return c.reconcile(ctx, m, snap)
	}

	p := c.policy.Policy(ce.Category)
	switch {
	case p.Strategy == retry.StrategyExponentialBackoff && p.Retryable:
		if err := c.enqueue(ctx, m, ce); err != nil {
			c.revert(ctx, m, prior, ce)
			return prior, err
		}
		c.fail(ce, stateForTransient(ce))
		return c.State(), nil
	case p.Strategy == retry.StrategyLocalCorrection:
		if c.correct(ctx, next, m, ce) {
			c.deliver(ctx, corrective(m, ce), 1)
		} else {
			c.revert(ctx, m, prior, ce)
		}
		c.fail(ce, event.StateError)
		return c.State(), ce
	default:
		c.revert(ctx, m, prior, ce)
		c.fail(ce, event.StateError)
		return prior, ce
	}
}

// Replay executes a queued mutation: the local state already reflects it,
// so only the remote attempt and reconciliation run. attempt is the
// 1-based attempt count recorded by the queue. The returned error is the
// classified failure.
func (c *Coordinator) Replay(ctx context.Context, m cart.Mutation, attempt int) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.setState(event.StateSyncing)
	snap, ce := c.attemptRemote(ctx, m, attempt)
	if ce == nil {
		_, err := c.reconcile(ctx, m, snap)
		return err
	}

	p := c.policy.Policy(ce.Category)
	switch {
	case p.Strategy == retry.StrategyExponentialBackoff && p.Retryable:
		c.fail(ce, stateForTransient(ce))
	case p.Strategy == retry.StrategyLocalCorrection:
		if c.correct(ctx, c.State(), m, ce) {
			c.deliver(ctx, corrective(m, ce), attempt)
		} else {
			c.resync(ctx)
		}
		c.fail(ce, event.StateError)
	default:
		// The optimistic change can no longer be reverted exactly since
		// later mutations were applied on top; resynchronize instead.
		c.resync(ctx)
		c.bus.Publish(event.Reverted{Mutation: m, Category: ce.Category})
		c.fail(ce, event.StateError)
	}
	return ce
}

// Pull fetches the server cart and reconciles against it. It is the
// explicit retry path out of Error and Offline.
func (c *Coordinator) Pull(ctx context.Context) (cart.State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.Online() {
		return c.State(), retry.Classify(retry.ErrOffline)
	}
	c.setState(event.StateSyncing)
	start := c.clock.Now()
	snap, err := c.api.Get(ctx)
	if err != nil {
		ce := retry.Classify(err)
		c.metrics.RemoteCall(ctx, cartapi.OpGet, string(ce.Category), c.clock.Now().Sub(start))
		c.fail(ce, stateForTransient(ce))
		return c.State(), ce
	}
	c.metrics.RemoteCall(ctx, cartapi.OpGet, "", c.clock.Now().Sub(start))
	return c.reconcile(ctx, cart.Mutation{}, snap)
}

// Adopt replaces local state with snap as if it had been returned by a
// successful remote call. Migration uses it after applying a merged cart.
func (c *Coordinator) Adopt(ctx context.Context, snap cartapi.Snapshot) (cart.State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.reconcile(ctx, cart.Mutation{}, snap)
}

// attemptRemote is the single remote suspension point. A TokenExpired
// failure triggers one credential refresh and one immediate retry.
func (c *Coordinator) attemptRemote(ctx context.Context, m cart.Mutation, attempt int) (cartapi.Snapshot, *retry.Error) {
	c.ensureCredential(ctx)

	snap, ce := c.call(ctx, m)
	if ce == nil {
		return snap, nil
	}
	c.record(m, attempt, ce, c.policy.Policy(ce.Category).Retryable)
	if ce.Category != retry.CategoryTokenExpired || c.creds == nil {
		return cartapi.Snapshot{}, ce
	}

	if err := c.creds.Refresh(ctx); err != nil {
		c.logger.Warn("credential refresh failed", "op", m.Type, "error", err)
		return cartapi.Snapshot{}, ce
	}
	snap, ce = c.call(ctx, m)
	if ce != nil {
		// No second refresh: only failures the queue backs off on are
		// retried from here.
		p := c.policy.Policy(ce.Category)
		c.record(m, attempt, ce, p.Retryable && p.Strategy == retry.StrategyExponentialBackoff)
		return cartapi.Snapshot{}, ce
	}
	return snap, nil
}

func (c *Coordinator) call(ctx context.Context, m cart.Mutation) (cartapi.Snapshot, *retry.Error) {
	start := c.clock.Now()
	snap, err := cartapi.Do(ctx, c.api, m)
	elapsed := c.clock.Now().Sub(start)
	if err != nil {
		ce := retry.Classify(err)
		c.metrics.RemoteCall(ctx, string(m.Type), string(ce.Category), elapsed)
		return cartapi.Snapshot{}, ce
	}
	c.metrics.RemoteCall(ctx, string(m.Type), "", elapsed)
	return snap, nil
}

func (c *Coordinator) ensureCredential(ctx context.Context) {
	if c.creds == nil || c.creds.Valid(c.clock.Now()) {
		return
	}
	if err := c.creds.Refresh(ctx); err != nil {
		c.logger.Warn("credential near expiry and refresh failed", "error", err)
	}
}

// reconcile adopts the server snapshot, rebases still-queued mutations on
// top, persists, and returns to Idle.
func (c *Coordinator) reconcile(ctx context.Context, m cart.Mutation, snap cartapi.Snapshot) (cart.State, error) {
	remote, err := snap.State()
	if err != nil {
		ce := retry.Classify(err)
		c.fail(ce, event.StateError)
		return c.State(), ce
	}

	local := c.State()
	next, change := Reconcile(local, remote)
	if q := c.attachedQueue(); q != nil {
		next = rebase(next, q.PendingMutations())
	}
	c.setBase(remote)
	c.commit(ctx, next)

	c.mu.Lock()
	c.status.LastSyncedAt = c.clock.Now()
	c.status.LastError = ""
	c.status.LastCategory = ""
	c.mu.Unlock()

	c.logger.Debug("cart synced", "op", m.Type, "change", change, "items", next.Len())
	c.bus.Publish(event.Synced{Mutation: m, Change: change, Items: next.Len()})
	c.setState(event.StateIdle)
	return next, nil
}

// correct applies the mandated local fix for a business-rule failure to
// s and commits it. It reports false when no fix applies.
func (c *Coordinator) correct(ctx context.Context, s cart.State, m cart.Mutation, ce *retry.Error) bool {
	k := m.Key()
	if k.IsZero() {
		return false
	}
	available, price := cartapi.Details(ce)

	ev := event.CorrectionApplied{Key: k, Category: ce.Category}
	next := s
	var err error
	switch ce.Category {
	case retry.CategoryProductUnavailable:
		next, err = cart.RemoveItem(s, k)
		ev.Removed = true
	case retry.CategoryInsufficientStock:
		if available == nil {
			return false
		}
		next, err = cart.UpdateItem(s, k, *available)
		ev.Quantity = *available
		ev.Removed = *available <= 0
	case retry.CategoryPriceChanged:
		if price == nil {
			return false
		}
		next, err = cart.SetPrice(s, k, *price)
		ev.UnitPrice = *price
	default:
		return false
	}
	if err != nil {
		// The line is already gone locally; nothing to correct.
		return false
	}
	c.commit(ctx, next)
	c.logger.Info("local correction applied", "key", k, "category", ce.Category)
	c.bus.Publish(ev)
	return true
}

// deliver sends the mutations that carry a local correction to the
// server. A retryable failure queues the rest; any other failure
// resynchronizes from the server.
func (c *Coordinator) deliver(ctx context.Context, fix []cart.Mutation, attempt int) {
	for i, m := range fix {
		snap, ce := c.attemptRemote(ctx, m, attempt)
		if ce == nil {
			if i == len(fix)-1 {
				if _, err := c.reconcile(ctx, m, snap); err != nil {
					c.logger.Warn("reconcile after correction failed", "error", err)
				}
			} else if remote, err := snap.State(); err == nil {
				c.setBase(remote)
			}
			continue
		}

		p := c.policy.Policy(ce.Category)
		if p.Strategy == retry.StrategyExponentialBackoff && p.Retryable {
			for _, rest := range fix[i:] {
				if err := c.enqueue(ctx, rest, ce); err != nil {
					c.logger.Warn("queueing correction failed", "mutation", rest, "error", err)
					c.resync(ctx)
					return
				}
			}
			return
		}
		c.logger.Warn("correction rejected", "mutation", m, "category", ce.Category)
		c.resync(ctx)
		return
	}
}

// Dropped rebuilds the local cart after the queue evicted m: the last
// server cart with the operations still queued applied on top. The queue
// calls it from inside Enqueue, so it must not take opMu.
func (c *Coordinator) Dropped(ctx context.Context, m cart.Mutation) {
	c.mu.Lock()
	next := c.base
	c.mu.Unlock()
	if q := c.attachedQueue(); q != nil {
		next = rebase(next, q.PendingMutations())
	}
	c.commit(ctx, next)
	c.bus.Publish(event.Reverted{Mutation: m})
}

// revert restores prior. ce is nil when the mutation was dropped before
// any remote attempt.
func (c *Coordinator) revert(ctx context.Context, m cart.Mutation, prior cart.State, ce *retry.Error) {
	c.commit(ctx, prior)
	ev := event.Reverted{Mutation: m}
	if ce != nil {
		ev.Category = ce.Category
	}
	c.bus.Publish(ev)
}

func (c *Coordinator) resync(ctx context.Context) {
	snap, err := c.api.Get(ctx)
	if err != nil {
		c.logger.Warn("resync after rejected operation failed", "error", err)
		return
	}
	remote, err := snap.State()
	if err != nil {
		return
	}
	next := remote
	if q := c.attachedQueue(); q != nil {
		next = rebase(remote, q.PendingMutations())
	}
	c.setBase(remote)
	c.commit(ctx, next)
}

func (c *Coordinator) setBase(remote cart.State) {
	c.mu.Lock()
	c.base = remote
	c.mu.Unlock()
}

func (c *Coordinator) enqueue(ctx context.Context, m cart.Mutation, ce *retry.Error) error {
	q := c.attachedQueue()
	if q == nil {
		return errors.New("syncer: no offline queue attached")
	}
	if err := q.Enqueue(ctx, m, ce); err != nil {
		return fmt.Errorf("enqueue %s: %w", m, err)
	}
	return nil
}

func (c *Coordinator) attachedQueue() Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

// commit replaces the local state and persists it. Persistence failures
// are logged: the in-memory state stays authoritative for the session.
func (c *Coordinator) commit(ctx context.Context, s cart.State) {
	c.mu.Lock()
	c.state = s
	base := c.base
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	data, err := codec.Marshal(persistedCart{Items: s.Items(), Base: base.Items()})
	if err == nil {
		err = c.store.Set(ctx, LocalCartKey, data)
	}
	if err != nil {
		c.logger.Error("persist local cart failed", "error", err)
	}
}

func (c *Coordinator) record(m cart.Mutation, attempt int, ce *retry.Error, retryable bool) {
	c.journal.Append(retry.Record{
		At:        c.clock.Now(),
		Operation: string(m.Type),
		ProductID: m.Item.ProductID,
		Size:      m.Item.Size,
		Quantity:  m.Item.Quantity,
		UnitPrice: m.Item.UnitPrice,
		Attempt:   attempt,
		Category:  ce.Category,
		Retryable: retryable,
		Message:   ce.Error(),
	})
	c.logger.Warn("remote attempt failed",
		"op", m.Type,
		"key", m.Key(),
		"attempt", attempt,
		"category", ce.Category,
		"retryable", retryable,
	)
}

func (c *Coordinator) fail(ce *retry.Error, to event.SyncState) {
	c.mu.Lock()
	c.status.LastError = ce.Error()
	c.status.LastCategory = ce.Category
	c.mu.Unlock()
	c.setState(to)
}

func (c *Coordinator) currentState() event.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.State
}

func (c *Coordinator) setState(to event.SyncState) {
	c.mu.Lock()
	from := c.status.State
	c.status.State = to
	c.mu.Unlock()
	if from != to {
		c.bus.Publish(event.StateChanged{From: from, To: to})
	}
}

// stateForTransient picks Offline for connectivity failures and Syncing
// for server-side ones, which are retried while the network is up.
func stateForTransient(ce *retry.Error) event.SyncState {
	if ce.Category == retry.CategoryNetworkUnavailable {
		return event.StateOffline
	}
	if ce.Category.IsTransient() {
		return event.StateSyncing
	}
	return event.StateError
}

type persistedCart struct {
	Items []cart.Item `cbor:"items"`
	Base  []cart.Item `cbor:"base,omitempty"`
}

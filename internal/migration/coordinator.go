// Package migration merges a guest cart into an authenticated account's
// cart when the user logs in.
//
// A run fetches the account cart, resolves conflicting lines with the
// chosen Strategy, validates the merged set, then replaces the remote cart
// item by item. A failure while applying restores the exact pre-run
// remote cart.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/cartapi"
	"github.com/roach88/cartsync/internal/clock"
	"github.com/roach88/cartsync/internal/codec"
	"github.com/roach88/cartsync/internal/event"
	"github.com/roach88/cartsync/internal/retry"
	"github.com/roach88/cartsync/internal/store"
	"github.com/roach88/cartsync/internal/telemetry"
)

// Store keys.
const (
	GuestCartKey = "cart.guest"
	MarkerKey    = "migration.pending"
)

// Syncer is the part of the sync coordinator a migration uses.
type Syncer interface {
	API() cartapi.API
	// Adopt makes snap the local state.
	Adopt(ctx context.Context, snap cartapi.Snapshot) (cart.State, error)
	// Pull resynchronizes local state from the server.
	Pull(ctx context.Context) (cart.State, error)
	// EnterConflict marks that conflicts are being resolved.
	EnterConflict()
}

// Resolver decides a conflict for AskUser.
type Resolver func(ctx context.Context, c Conflict) (cart.Item, error)

// Options configure one run.
type Options struct {
	Strategy Strategy
	Resolver Resolver
}

// Coordinator runs migrations. The zero value is not usable.
type Coordinator struct {
	sync    Syncer
	store   store.Store
	clock   clock.Clock
	bus     event.Publisher
	metrics *telemetry.Metrics
	logger  *slog.Logger
	runID   func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option { return func(m *Coordinator) { m.clock = c } }

// WithPublisher sets where MigrationFinished is sent.
func WithPublisher(p event.Publisher) Option { return func(m *Coordinator) { m.bus = p } }

// WithMetrics sets the metric instruments.
func WithMetrics(mt *telemetry.Metrics) Option { return func(m *Coordinator) { m.metrics = mt } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Coordinator) { m.logger = l } }

// WithRunIDs sets the run ID source (default UUIDv7).
func WithRunIDs(f func() string) Option { return func(m *Coordinator) { m.runID = f } }

// New creates a migration coordinator.
func New(s Syncer, st store.Store, opts ...Option) *Coordinator {
	m := &Coordinator{
		sync:   s,
		store:  st,
		clock:  clock.Real(),
		bus:    event.Discard,
		logger: slog.Default(),
		runID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type guestSnapshot struct {
	Items []cart.Item `cbor:"items"`
}

type marker struct {
	MarkedAt time.Time `cbor:"marked_at"`
}

// MarkPending stores the guest cart and the pending-migration marker. An
// empty guest cart clears both.
func (m *Coordinator) MarkPending(ctx context.Context, guest cart.State) error {
	if guest.IsEmpty() {
		return m.ClearPending(ctx)
	}
	data, err := codec.Marshal(guestSnapshot{Items: guest.Items()})
	if err != nil {
		return fmt.Errorf("encode guest cart: %w", err)
	}
	if err := m.store.Set(ctx, GuestCartKey, data); err != nil {
		return fmt.Errorf("save guest cart: %w", err)
	}
	data, err = codec.Marshal(marker{MarkedAt: m.clock.Now()})
	if err != nil {
		return fmt.Errorf("encode migration marker: %w", err)
	}
	if err := m.store.Set(ctx, MarkerKey, data); err != nil {
		return fmt.Errorf("save migration marker: %w", err)
	}
	m.logger.Info("guest cart marked for migration", "items", guest.Len())
	return nil
}

// NeedsMigration reports whether a non-empty guest cart is waiting.
func (m *Coordinator) NeedsMigration(ctx context.Context) (bool, error) {
	if _, err := m.store.Get(ctx, MarkerKey); err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("read migration marker: %w", err)
	}
	guest, err := m.Guest(ctx)
	if err != nil {
		return false, err
	}
	return !guest.IsEmpty(), nil
}

// Guest returns the stored guest cart, empty if none.
func (m *Coordinator) Guest(ctx context.Context) (cart.State, error) {
	data, err := m.store.Get(ctx, GuestCartKey)
	if store.IsNotFound(err) {
		return cart.State{}, nil
	}
	if err != nil {
		return cart.State{}, fmt.Errorf("read guest cart: %w", err)
	}
	var gs guestSnapshot
	if err := codec.Unmarshal(data, &gs); err != nil {
		return cart.State{}, fmt.Errorf("decode guest cart: %w", err)
	}
	return cart.NewState(gs.Items...)
}

// ClearPending drops the stored guest cart and the pending-migration
// marker.
func (m *Coordinator) ClearPending(ctx context.Context) error {
	return errors.Join(m.store.Remove(ctx, MarkerKey), m.store.Remove(ctx, GuestCartKey))
}

// Migrate merges the stored guest cart into the account's cart.
//
// It returns ErrNothingToMigrate when no guest cart is waiting. Any other
// failure comes back both as the error and in the Result: Failed before
// the remote cart was touched or when rollback failed, RolledBack when
// the remote cart was restored. The guest cart is kept until a run
// completes.
func (m *Coordinator) Migrate(ctx context.Context, opts Options) (Result, error) {
	need, err := m.NeedsMigration(ctx)
	if err != nil {
		return Result{}, err
	}
	if !need {
		return Result{}, ErrNothingToMigrate
	}
	guest, err := m.Guest(ctx)
	if err != nil {
		return Result{}, err
	}
	if opts.Strategy == "" {
		opts.Strategy = MergeQuantities
	}

	start := m.clock.Now()
	res := Result{RunID: m.runID(), Status: StatusInProgress, Stats: Stats{Total: guest.Len()}}
	log := m.logger.With("run_id", res.RunID, "strategy", opts.Strategy)
	log.Info("migration starting", "guest_items", guest.Len())

	runErr := m.run(ctx, guest, opts, &res)
	if runErr != nil {
		res.Errors = append(res.Errors, runErr.Error())
		if res.Status == StatusInProgress {
			res.Status = StatusFailed
		}
	}
	res.Stats.Duration = m.clock.Now().Sub(start)
	res.rollback = nil

	switch res.Status {
	case StatusCompleted:
		if err := m.ClearPending(ctx); err != nil {
			log.Warn("clear migration marker failed", "error", err)
		}
		log.Info("migration completed", "migrated", res.Stats.Migrated, "conflicts", res.Stats.Conflicts, "duration", res.Stats.Duration)
	default:
		if len(res.Conflicts) > 0 || res.Status == StatusRolledBack {
			if _, err := m.sync.Pull(ctx); err != nil {
				log.Warn("resync after migration failed", "error", err)
			}
		}
		log.Warn("migration did not complete", "status", res.Status, "error", runErr)
	}

	m.metrics.MigrationRun(ctx, string(res.Status), res.Stats.Duration)
	m.bus.Publish(event.MigrationFinished{
		RunID:     res.RunID,
		Status:    string(res.Status),
		Migrated:  res.Stats.Migrated,
		Conflicts: res.Stats.Conflicts,
		Failed:    res.Stats.Failed,
	})
	return res, runErr
}

func (m *Coordinator) run(ctx context.Context, guest cart.State, opts Options, res *Result) error {
	api := m.sync.API()

	remoteSnap, err := api.Get(ctx)
	if err != nil {
		return fmt.Errorf("fetch account cart: %w", retry.Classify(err))
	}
	remote, err := remoteSnap.State()
	if err != nil {
		return fmt.Errorf("account cart: %w", err)
	}

	res.Conflicts = Detect(guest, remote)
	res.Stats.Conflicts = len(res.Conflicts)
	if len(res.Conflicts) > 0 {
		m.sync.EnterConflict()
	}

	var invalid []error
	for i := range res.Conflicts {
		c := &res.Conflicts[i]
		resolved, err := m.resolve(ctx, *c, opts)
		if err != nil {
			if IsValidation(err) {
				invalid = append(invalid, err)
				res.Stats.Failed++
				continue
			}
			return err
		}
		c.Resolved = &resolved
	}
	if len(invalid) > 0 {
		return errors.Join(invalid...)
	}

	merged := Merge(guest, remote, res.Conflicts)
	if _, err := cart.NewState(merged...); err != nil {
		res.Stats.Failed = len(merged)
		return fmt.Errorf("merged cart invalid: %w", err)
	}

	res.rollback = remote.Items()
	snap, n, err := m.apply(ctx, api, merged)
	res.Stats.Migrated = n
	if err != nil {
		res.Stats.Failed = len(merged) - n
		if rbErr := m.restore(ctx, api, res.rollback); rbErr != nil {
			res.Status = StatusFailed
			return fmt.Errorf("apply failed: %w; rollback failed: %w", err, rbErr)
		}
		res.Status = StatusRolledBack
		res.Stats.Migrated = 0
		return fmt.Errorf("apply failed, account cart restored: %w", err)
	}

	res.Migrated = merged
	res.Status = StatusCompleted
	if _, err := m.sync.Adopt(ctx, snap); err != nil {
		return fmt.Errorf("adopt migrated cart: %w", err)
	}
	return nil
}

// apply replaces the remote cart with items. It returns the final
// snapshot and how many items were added.
func (m *Coordinator) apply(ctx context.Context, api cartapi.API, items []cart.Item) (cartapi.Snapshot, int, error) {
	snap, err := api.Clear(ctx)
	if err != nil {
		return cartapi.Snapshot{}, 0, retry.Classify(err)
	}
	for i, it := range items {
		snap, err = api.Add(ctx, it)
		if err != nil {
			return cartapi.Snapshot{}, i, fmt.Errorf("add %s (%d of %d): %w", it.Key(), i+1, len(items), retry.Classify(err))
		}
	}
	return snap, len(items), nil
}

func (m *Coordinator) restore(ctx context.Context, api cartapi.API, items []cart.Item) error {
	_, _, err := m.apply(ctx, api, items)
	return err
}

func (m *Coordinator) resolve(ctx context.Context, c Conflict, opts Options) (cart.Item, error) {
	switch opts.Strategy {
	case GuestWins:
		return c.Guest, nil
	case ServerWins:
		return c.Server, nil
	case KeepLatest:
		return latest(c.Guest, c.Server), nil
	case MergeQuantities:
		return mergeQuantities(c)
	case AskUser:
		if opts.Resolver == nil {
			return mergeQuantities(c)
		}
		it, err := opts.Resolver(ctx, c)
		if err != nil {
			return cart.Item{}, fmt.Errorf("resolve %s: %w", c.Key, err)
		}
		if it.Key() != c.Key {
			return cart.Item{}, fmt.Errorf("resolve %s: resolver returned line %s", c.Key, it.Key())
		}
		return it, nil
	default:
		return cart.Item{}, fmt.Errorf("unknown migration strategy %q", opts.Strategy)
	}
}

func mergeQuantities(c Conflict) (cart.Item, error) {
	sum := c.Guest.Quantity + c.Server.Quantity
	if sum > cart.MaxQuantity {
		return cart.Item{}, &ValidationError{Key: c.Key, Quantity: sum, Err: cart.ErrQuantityLimitExceeded}
	}
	it := latest(c.Guest, c.Server)
	it.Quantity = sum
	return it, nil
}

// latest prefers the guest line on a tie.
func latest(guest, server cart.Item) cart.Item {
	if server.AddedAt.After(guest.AddedAt) {
		return server
	}
	return guest
}

// Detect lists guest lines whose key also exists in remote, in guest order.
func Detect(guest, remote cart.State) []Conflict {
	var out []Conflict
	for _, g := range guest.Items() {
		s, ok := remote.Get(g.Key())
		if !ok {
			continue
		}
		out = append(out, Conflict{Key: g.Key(), Guest: g, Server: s, Differences: diff(g, s)})
	}
	return out
}

func diff(g, s cart.Item) []Difference {
	var d []Difference
	if g.Quantity != s.Quantity {
		d = append(d, Difference{Field: "quantity", Guest: strconv.Itoa(g.Quantity), Server: strconv.Itoa(s.Quantity)})
	}
	if g.UnitPrice != s.UnitPrice {
		d = append(d, Difference{Field: "unit_price", Guest: strconv.FormatInt(g.UnitPrice, 10), Server: strconv.FormatInt(s.UnitPrice, 10)})
	}
	if !g.AddedAt.Equal(s.AddedAt) {
		d = append(d, Difference{Field: "added_at", Guest: g.AddedAt.Format(time.RFC3339), Server: s.AddedAt.Format(time.RFC3339)})
	}
	return d
}

// Merge starts from the remote lines, substitutes resolved conflicts, and
// appends the remaining guest lines.
func Merge(guest, remote cart.State, conflicts []Conflict) []cart.Item {
	resolved := make(map[cart.Key]cart.Item, len(conflicts))
	for _, c := range conflicts {
		if c.Resolved != nil {
			resolved[c.Key] = *c.Resolved
		}
	}
	out := make([]cart.Item, 0, remote.Len()+guest.Len())
	for _, it := range remote.Items() {
		if r, ok := resolved[it.Key()]; ok {
			it = r
		}
		out = append(out, it)
	}
	for _, it := range guest.Items() {
		if _, ok := remote.Get(it.Key()); !ok {
			out = append(out, it)
		}
	}
	return out
}

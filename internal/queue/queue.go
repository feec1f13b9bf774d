package queue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/clock"
	"github.com/roach88/cartsync/internal/codec"
	"github.com/roach88/cartsync/internal/event"
	"github.com/roach88/cartsync/internal/retry"
	"github.com/roach88/cartsync/internal/store"
	"github.com/roach88/cartsync/internal/telemetry"
)

// SnapshotKey is the store key holding the serialized queue.
const SnapshotKey = "cartsync.offline_queue"

// Defaults.
const (
	DefaultCapacity        = 100
	DefaultMaxAttempts     = 5
	DefaultProcessInterval = 30 * time.Second
)

var (
	// ErrQueueFull is returned when the queue is at capacity and holds
	// nothing that may be evicted.
	ErrQueueFull = errors.New("offline queue is full")

	// ErrAlreadyProcessing is returned by Process while another pass runs.
	ErrAlreadyProcessing = errors.New("offline queue is already processing")
)

// Executor replays a queued mutation against the Cart API. attempt is the
// 1-based attempt count. The returned error, if any, is classified with
// retry.Classify.
type Executor interface {
	Replay(ctx context.Context, m cart.Mutation, attempt int) error
}

// Queue is the durable offline queue. Create one with New; the zero value
// is not usable. Safe for concurrent use.
type Queue struct {
	store       store.Store
	exec        Executor
	policy      *retry.Engine
	clock       clock.Clock
	bus         event.Publisher
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	ids         IDGenerator
	online      func() bool
	onEvict     func(context.Context, cart.Mutation)
	capacity    int
	maxAttempts int
	interval    time.Duration

	processing atomic.Bool
	kick       chan struct{}
	restored   chan struct{}

	mu       sync.Mutex
	ops      []*Operation
	seq      uint64
	counters counters
}

type counters struct {
	completed int
	cancelled int
	evicted   int
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the number of queued operations (default 100).
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithMaxAttempts sets the attempt budget of new operations (default 5).
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithProcessInterval sets the period of the fallback timer in Run.
func WithProcessInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.interval = d
		}
	}
}

// WithPolicy sets the retry policy engine used for backoff.
func WithPolicy(e *retry.Engine) Option { return func(q *Queue) { q.policy = e } }

// WithClock sets the time source.
func WithClock(c clock.Clock) Option { return func(q *Queue) { q.clock = c } }

// WithPublisher sets where queue events are sent.
func WithPublisher(p event.Publisher) Option { return func(q *Queue) { q.bus = p } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option { return func(q *Queue) { q.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithIDGenerator sets the operation ID source (default UUIDv7).
func WithIDGenerator(g IDGenerator) Option { return func(q *Queue) { q.ids = g } }

// WithOnline sets the connectivity source consulted before processing.
func WithOnline(f func() bool) Option { return func(q *Queue) { q.online = f } }

// WithEvictHandler sets a function called with the mutation of every
// evicted operation, after the queue lock is released. The engine uses it
// to take the evicted change out of the local cart.
func WithEvictHandler(f func(context.Context, cart.Mutation)) Option {
	return func(q *Queue) { q.onEvict = f }
}

// New creates an empty queue persisted to s and replayed through exec.
// Call Load to restore a persisted snapshot.
func New(s store.Store, exec Executor, opts ...Option) *Queue {
	q := &Queue{
		store:       s,
		exec:        exec,
		clock:       clock.Real(),
		bus:         event.Discard,
		logger:      slog.Default(),
		ids:         UUIDv7{},
		online:      func() bool { return true },
		capacity:    DefaultCapacity,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultProcessInterval,
		kick:        make(chan struct{}, 1),
		restored:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.policy == nil {
		q.policy = retry.NewEngine()
	}
	return q
}

type snapshot struct {
	Version    int         `cbor:"version"`
	Operations []Operation `cbor:"operations"`
}

const snapshotVersion = 1

// Load restores the persisted queue, replacing the in-memory one.
// Operations found in processing are reset to pending: the process that
// ran them stopped before recording an outcome.
func (q *Queue) Load(ctx context.Context) error {
	data, err := q.store.Get(ctx, SnapshotKey)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load offline queue: %w", err)
	}
	var snap snapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode offline queue: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("offline queue snapshot version %d not supported", snap.Version)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = q.ops[:0]
	recovered := 0
	for i := range snap.Operations {
		op := snap.Operations[i]
		if op.Status == StatusProcessing {
			op.Status = StatusPending
			recovered++
		}
		q.ops = append(q.ops, &op)
		q.seq = max(q.seq, op.Seq)
	}
	q.sortLocked()
	if recovered > 0 {
		q.logger.Info("recovered interrupted operations", "count", recovered)
		q.persistLocked(ctx)
	}
	q.metrics.QueueDepth(ctx, len(q.ops))
	return nil
}

// Enqueue adds m with its default priority. cause is the failure that sent
// it here, or nil when it only waits behind earlier operations.
func (q *Queue) Enqueue(ctx context.Context, m cart.Mutation, cause *retry.Error) error {
	_, err := q.EnqueueWithPriority(ctx, m, DefaultPriority(m), cause)
	return err
}

// EnqueueWithPriority adds m at priority p and returns the resulting
// operation. A queued operation of the same type and scope that no later
// operation depends on absorbs m instead of a new entry being added.
func (q *Queue) EnqueueWithPriority(ctx context.Context, m cart.Mutation, p Priority, cause *retry.Error) (Operation, error) {
	if !m.Type.Valid() {
		return Operation{}, fmt.Errorf("enqueue: unknown mutation type %q", m.Type)
	}
	now := q.clock.Now()

	q.mu.Lock()
	if dup := q.duplicateLocked(m); dup != nil {
		merge(dup, m, p, now)
		q.sortLocked()
		q.persistLocked(ctx)
		op := dup.clone()
		depth := len(q.ops)
		q.mu.Unlock()

		q.logger.Debug("merged into queued operation", "id", op.ID, "mutation", m)
		q.bus.Publish(event.Enqueued{OperationID: op.ID, Mutation: op.Mutation, Priority: op.Priority.String(), Merged: true})
		q.metrics.QueueDepth(ctx, depth)
		return op, nil
	}

	var evicted *Operation
	if len(q.ops) >= q.capacity {
		evicted = q.evictLocked()
		if evicted == nil {
			q.mu.Unlock()
			return Operation{}, ErrQueueFull
		}
	}

	q.seq++
	op := &Operation{
		ID:           q.ids.Generate(),
		Seq:          q.seq,
		Mutation:     m,
		Priority:     p,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		MaxAttempts:  q.maxAttempts,
		Dependencies: q.dependenciesLocked(m),
	}
	if cause != nil {
		op.LastCategory = cause.Category
		if !errors.Is(cause, retry.ErrOffline) {
			op.NextAttemptAt = now.Add(q.policy.Delay(q.policy.Policy(cause.Category), 0))
		}
	}
	q.ops = append(q.ops, op)
	q.sortLocked()
	q.persistLocked(ctx)
	out := op.clone()
	depth := len(q.ops)
	q.mu.Unlock()

	if evicted != nil {
		q.logger.Warn("queue full, evicted operation", "id", evicted.ID, "mutation", evicted.Mutation)
		q.bus.Publish(event.Evicted{OperationID: evicted.ID, Mutation: evicted.Mutation})
		q.metrics.QueueOutcome(ctx, "evicted")
		if q.onEvict != nil {
			q.onEvict(ctx, evicted.Mutation)
		}
	}
	q.logger.Debug("operation queued", "id", out.ID, "mutation", m, "priority", p)
	q.bus.Publish(event.Enqueued{OperationID: out.ID, Mutation: m, Priority: p.String()})
	q.metrics.QueueDepth(ctx, depth)

	if q.online() && !q.processing.Load() {
		signal(q.kick)
	}
	return out, nil
}

// duplicateLocked finds the operation m folds into: the newest operation
// sharing m's scope, when it has the same type and is not in flight.
// Older same-type operations behind a different intervening mutation are
// left alone to keep per-line order.
func (q *Queue) duplicateLocked(m cart.Mutation) *Operation {
	var newest *Operation
	for _, op := range q.ops {
		if !op.touches(m) {
			continue
		}
		if newest == nil || op.Seq > newest.Seq {
			newest = op
		}
	}
	if newest == nil || newest.Status == StatusProcessing || newest.Mutation.Type != m.Type {
		return nil
	}
	if m.Type != cart.MutationClear && newest.Mutation.Key() != m.Key() {
		return nil
	}
	return newest
}

// merge folds m into op: Update adopts the incoming quantity, Add sums
// quantities and takes the incoming price, Remove and Clear collapse.
func merge(op *Operation, m cart.Mutation, p Priority, now time.Time) {
	switch m.Type {
	case cart.MutationUpdate:
		op.Mutation.Item.Quantity = m.Item.Quantity
	case cart.MutationAdd:
		op.Mutation.Item.Quantity += m.Item.Quantity
		op.Mutation.Item.UnitPrice = m.Item.UnitPrice
	}
	op.Priority = max(op.Priority, p)
	op.UpdatedAt = now
}

// dependenciesLocked lists queued operations m must run after.
func (q *Queue) dependenciesLocked(m cart.Mutation) []string {
	var deps []string
	for _, op := range q.ops {
		if op.touches(m) {
			deps = append(deps, op.ID)
		}
	}
	return deps
}

// evictLocked removes the oldest LOW operation, or else the oldest pending
// one. Operations in flight are never evicted.
func (q *Queue) evictLocked() *Operation {
	pick := func(match func(*Operation) bool) int {
		best := -1
		for i, op := range q.ops {
			if op.Status == StatusProcessing || !match(op) {
				continue
			}
			if best < 0 || op.Seq < q.ops[best].Seq {
				best = i
			}
		}
		return best
	}
	i := pick(func(op *Operation) bool { return op.Priority == PriorityLow })
	if i < 0 {
		i = pick(func(op *Operation) bool { return op.Status == StatusPending })
	}
	if i < 0 {
		return nil
	}
	op := q.ops[i]
	q.ops = slices.Delete(q.ops, i, i+1)
	q.counters.evicted++
	return op
}

// sortLocked orders by priority descending, then creation time, then
// enqueue order.
func (q *Queue) sortLocked() {
	slices.SortStableFunc(q.ops, func(a, b *Operation) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.ops, func(op *Operation) bool { return op.ID == id })
}

func (q *Queue) removeLocked(id string) {
	if i := q.indexLocked(id); i >= 0 {
		q.ops = slices.Delete(q.ops, i, i+1)
	}
}

// persistLocked writes the full queue. Failures are logged: the in-memory
// queue stays authoritative until the next successful write.
func (q *Queue) persistLocked(ctx context.Context) {
	snap := snapshot{Version: snapshotVersion, Operations: make([]Operation, len(q.ops))}
	for i, op := range q.ops {
		snap.Operations[i] = op.clone()
	}
	data, err := codec.Marshal(snap)
	if err == nil {
		err = q.store.Set(ctx, SnapshotKey, data)
	}
	if err != nil {
		q.logger.Error("persist offline queue failed", "error", err, "operations", len(q.ops))
	}
}

// Operations returns a copy of the queue in processing order.
func (q *Queue) Operations() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = op.clone()
	}
	return out
}

// PendingMutations lists the mutations of operations not in flight, in
// the order they were made.
func (q *Queue) PendingMutations() []cart.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := slices.Clone(q.ops)
	slices.SortFunc(ops, func(a, b *Operation) int { return cmp.Compare(a.Seq, b.Seq) })
	var out []cart.Mutation
	for _, op := range ops {
		if op.Status != StatusProcessing {
			out = append(out, op.Mutation)
		}
	}
	return out
}

// Blocks reports whether m must wait behind a queued operation.
func (q *Queue) Blocks(m cart.Mutation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.ContainsFunc(q.ops, func(op *Operation) bool { return op.touches(m) })
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Clear drops every operation that is not in flight and returns how many
// were removed.
func (q *Queue) Clear(ctx context.Context) int {
	q.mu.Lock()
	kept := q.ops[:0]
	removed := 0
	for _, op := range q.ops {
		if op.Status == StatusProcessing {
			kept = append(kept, op)
			continue
		}
		removed++
	}
	q.ops = kept
	q.persistLocked(ctx)
	depth := len(q.ops)
	q.mu.Unlock()
	q.metrics.QueueDepth(ctx, depth)
	return removed
}

// Stats summarizes the queue.
type Stats struct {
	Total           int            `json:"total"`
	Pending         int            `json:"pending"`
	Processing      int            `json:"processing"`
	Failed          int            `json:"failed"`
	ByPriority      map[string]int `json:"by_priority"`
	OldestCreatedAt time.Time      `json:"oldest_created_at,omitempty"`
	Capacity        int            `json:"capacity"`
	Completed       int            `json:"completed"`
	Cancelled       int            `json:"cancelled"`
	Evicted         int            `json:"evicted"`
}

// Stats returns the current statistics. Completed, Cancelled and Evicted
// count since the queue was created.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Total:      len(q.ops),
		ByPriority: make(map[string]int),
		Capacity:   q.capacity,
		Completed:  q.counters.completed,
		Cancelled:  q.counters.cancelled,
		Evicted:    q.counters.evicted,
	}
	for _, op := range q.ops {
		switch op.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusFailed:
			s.Failed++
		}
		s.ByPriority[op.Priority.String()]++
		if s.OldestCreatedAt.IsZero() || op.CreatedAt.Before(s.OldestCreatedAt) {
			s.OldestCreatedAt = op.CreatedAt
		}
	}
	return s
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

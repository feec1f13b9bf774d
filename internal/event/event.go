// Package event defines the closed set of notifications emitted by the
// sync engine and a fan-out Bus to deliver them.
//
// Subscribers receive Event values on a channel and type-switch over the
// concrete variants below. The set is sealed: only this package can add
// variants, so a switch that covers every type listed here is exhaustive.
package event

import (
	"time"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/retry"
)

// SyncState is the coordinator's high-level status.
type SyncState string

const (
	StateIdle     SyncState = "idle"
	StateSyncing  SyncState = "syncing"
	StateOffline  SyncState = "offline"
	StateError    SyncState = "error"
	StateConflict SyncState = "conflict"
)

// Event is implemented by every notification variant.
type Event interface {
	// Name is a stable identifier used in traces and logs.
	Name() string
	sealed()
}

// OptimisticApplied is emitted when a mutation has been applied locally,
// before any remote confirmation.
type OptimisticApplied struct {
	Mutation cart.Mutation
	Items    int
}

// Synced is emitted after a successful remote round-trip replaced local
// state with the server snapshot.
type Synced struct {
	Mutation cart.Mutation
	Change   cart.Change
	Items    int
}

// Reverted is emitted when a non-retryable failure rolled back an
// optimistic mutation.
type Reverted struct {
	Mutation cart.Mutation
	Category retry.Category
}

// CorrectionApplied is emitted when a business-rule failure forced a
// local change: the line was removed, clamped, or repriced.
type CorrectionApplied struct {
	Key       cart.Key
	Category  retry.Category
	Removed   bool
	Quantity  int
	UnitPrice int64
}

// StateChanged is emitted on every sync-state transition.
type StateChanged struct {
	From SyncState
	To   SyncState
}

// ConnectivityChanged mirrors the connectivity signal.
type ConnectivityChanged struct {
	Online bool
}

// Enqueued is emitted when a mutation entered the offline queue. Merged is
// true when it was folded into an existing operation.
type Enqueued struct {
	OperationID string
	Mutation    cart.Mutation
	Priority    string
	Merged      bool
}

// Evicted is emitted when an operation was dropped to make room.
type Evicted struct {
	OperationID string
	Mutation    cart.Mutation
}

// OperationCompleted is emitted when a queued operation succeeded.
type OperationCompleted struct {
	OperationID string
	Mutation    cart.Mutation
	Attempts    int
}

// OperationFailed is emitted when a queued operation failed and will be
// retried no earlier than NextAttemptAt.
type OperationFailed struct {
	OperationID   string
	Mutation      cart.Mutation
	Attempts      int
	Category      retry.Category
	NextAttemptAt time.Time
}

// OperationCancelled is emitted when a queued operation was dropped after
// exhausting its attempts or hitting a non-retryable failure.
type OperationCancelled struct {
	OperationID string
	Mutation    cart.Mutation
	Attempts    int
	Category    retry.Category
}

// MigrationFinished is emitted at the end of every migration run.
type MigrationFinished struct {
	RunID     string
	Status    string
	Migrated  int
	Conflicts int
	Failed    int
}

func (OptimisticApplied) Name() string   { return "optimistic_applied" }
func (Synced) Name() string              { return "synced" }
func (Reverted) Name() string            { return "reverted" }
func (CorrectionApplied) Name() string   { return "correction_applied" }
func (StateChanged) Name() string        { return "state_changed" }
func (ConnectivityChanged) Name() string { return "connectivity_changed" }
func (Enqueued) Name() string            { return "enqueued" }
func (Evicted) Name() string             { return "evicted" }
func (OperationCompleted) Name() string  { return "operation_completed" }
func (OperationFailed) Name() string     { return "operation_failed" }
func (OperationCancelled) Name() string  { return "operation_cancelled" }
func (MigrationFinished) Name() string   { return "migration_finished" }

func (OptimisticApplied) sealed()   {}
func (Synced) sealed()              {}
func (Reverted) sealed()            {}
func (CorrectionApplied) sealed()   {}
func (StateChanged) sealed()        {}
func (ConnectivityChanged) sealed() {}
func (Enqueued) sealed()            {}
func (Evicted) sealed()             {}
func (OperationCompleted) sealed()  {}
func (OperationFailed) sealed()     {}
func (OperationCancelled) sealed()  {}
func (MigrationFinished) sealed()   {}

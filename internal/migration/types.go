package migration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cartsync/internal/cart"
)

// Strategy selects how a conflicting line is resolved.
type Strategy string

const (
	// GuestWins takes the guest line verbatim.
	GuestWins Strategy = "guest_wins"
	// ServerWins takes the account's line verbatim.
	ServerWins Strategy = "server_wins"
	// MergeQuantities sums the quantities and takes the price of the more
	// recently added line. A sum above the quantity limit is a validation
	// failure.
	MergeQuantities Strategy = "merge_quantities"
	// KeepLatest takes whichever line was added more recently.
	KeepLatest Strategy = "keep_latest"
	// AskUser delegates to the Resolver, or falls back to MergeQuantities.
	AskUser Strategy = "ask_user"
)

// Strategies lists every strategy.
var Strategies = []Strategy{GuestWins, ServerWins, MergeQuantities, KeepLatest, AskUser}

// ParseStrategy accepts a strategy name in snake_case or with dashes.
func ParseStrategy(s string) (Strategy, error) {
	norm := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, st := range Strategies {
		if st == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown migration strategy %q", s)
}

// Status is the outcome of a migration run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Difference is one diverging field of a conflicting line.
type Difference struct {
	Field  string `json:"field"`
	Guest  string `json:"guest"`
	Server string `json:"server"`
}

// Conflict is a guest line whose key also exists in the account's cart.
type Conflict struct {
	Key         cart.Key     `json:"key"`
	Guest       cart.Item    `json:"guest"`
	Server      cart.Item    `json:"server"`
	Differences []Difference `json:"differences,omitempty"`
	Strategy    Strategy     `json:"strategy"`
	Resolved    *cart.Item   `json:"resolved,omitempty"`
}

// Stats are recorded for observability only.
type Stats struct {
	Total     int           `json:"total"`
	Migrated  int           `json:"migrated"`
	Conflicts int           `json:"conflicts"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Result describes one migration run.
type Result struct {
	RunID     string      `json:"run_id"`
	Status    Status      `json:"status"`
	Migrated  []cart.Item `json:"migrated,omitempty"`
	Conflicts []Conflict  `json:"conflicts,omitempty"`
	Errors    []string    `json:"errors,omitempty"`
	Stats     Stats       `json:"stats"`

	// rollback is the account's cart before apply, kept for one run.
	rollback []cart.Item
}

// ValidationError reports a merged line that would break cart invariants.
type ValidationError struct {
	Key      cart.Key
	Quantity int
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("migration: %s quantity %d: %v", e.Key, e.Quantity, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err contains a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrNothingToMigrate is returned when no guest cart is waiting.
var ErrNothingToMigrate = errors.New("migration: no pending guest cart")

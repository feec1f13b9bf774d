package queue

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/retry"
)

// Priority orders operations in the queue; higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Priorities lists all priorities from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// ParsePriority parses a priority name, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q (want one of LOW, NORMAL, HIGH, CRITICAL)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// DefaultPriority is the priority Enqueue assigns to m. Clearing the cart
// is the user's strongest intent and runs ahead of line edits.
func DefaultPriority(m cart.Mutation) Priority {
	if m.Type == cart.MutationClear {
		return PriorityHigh
	}
	return PriorityNormal
}

// Status is the lifecycle position of an operation.
//
//	pending -> processing -> completed (removed)
//	                      -> failed -> processing ... (backoff gated)
//	                      -> cancelled (removed)
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Operation is one queued mutation. Seq records enqueue order, which
// CreatedAt alone cannot when the clock does not advance between calls.
type Operation struct {
	ID            string         `json:"id" cbor:"id"`
	Seq           uint64         `json:"seq" cbor:"seq"`
	Mutation      cart.Mutation  `json:"mutation" cbor:"mutation"`
	Priority      Priority       `json:"priority" cbor:"priority"`
	Status        Status         `json:"status" cbor:"status"`
	CreatedAt     time.Time      `json:"created_at" cbor:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" cbor:"updated_at"`
	Attempts      int            `json:"attempts" cbor:"attempts"`
	MaxAttempts   int            `json:"max_attempts" cbor:"max_attempts"`
	Dependencies  []string       `json:"dependencies,omitempty" cbor:"dependencies,omitempty"`
	NextAttemptAt time.Time      `json:"next_attempt_at,omitempty" cbor:"next_attempt_at,omitempty"`
	LastCategory  retry.Category `json:"last_category,omitempty" cbor:"last_category,omitempty"`
}

// touches reports whether o and m must keep their relative order: they
// target the same line, or either of them is a Clear.
func (o *Operation) touches(m cart.Mutation) bool {
	if o.Mutation.Type == cart.MutationClear || m.Type == cart.MutationClear {
		return true
	}
	return o.Mutation.Key() == m.Key()
}

func (o *Operation) clone() Operation {
	c := *o
	c.Dependencies = append([]string(nil), o.Dependencies...)
	return c
}

// IDGenerator produces operation IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7 generates time-sortable operation IDs.
type UUIDv7 struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceIDs returns prefix-1, prefix-2, ... for deterministic tests and
// scenario traces. Safe for concurrent use.
type SequenceIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequenceIDs creates a sequential generator.
func NewSequenceIDs(prefix string) *SequenceIDs {
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next ID.
func (s *SequenceIDs) Generate() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1))
}

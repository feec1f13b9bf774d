package harness

import (
	"fmt"
	"time"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/event"
	"github.com/roach88/cartsync/internal/syncer"
)

// Epoch is the fake clock's start time in every run.
var Epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// TraceEvent is one engine event in the order it was published.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Step   int    `json:"step"`
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
}

// Line is a cart line as recorded in results.
type Line struct {
	Key      string `json:"key"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// Final is the state after the last step.
type Final struct {
	Local     []Line `json:"local"`
	Remote    []Line `json:"remote"`
	QueueLen  int    `json:"queue_len"`
	SyncState string `json:"sync_state"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step and assertion succeeded.
	Pass bool `json:"pass"`

	// Trace contains every engine event in publish order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	Errors []string `json:"errors,omitempty"`

	Final Final `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(step int, ev event.Event) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Step:   step,
		Type:   ev.Name(),
		Detail: Describe(ev),
	})
}

func lines(s cart.State) []Line {
	out := make([]Line, 0, s.Len())
	for _, it := range s.Items() {
		out = append(out, Line{Key: it.Key().String(), Quantity: it.Quantity, Price: it.UnitPrice})
	}
	return out
}

func finalState(local, remote cart.State, queueLen int, st syncer.Status) Final {
	return Final{
		Local:     lines(local),
		Remote:    lines(remote),
		QueueLen:  queueLen,
		SyncState: string(st.State),
	}
}

// Describe renders the fields of ev that matter for a trace. Timestamps
// are shown relative to Epoch.
func Describe(ev event.Event) string {
	switch e := ev.(type) {
	case event.OptimisticApplied:
		return fmt.Sprintf("%s items=%d", e.Mutation, e.Items)
	case event.Synced:
		return fmt.Sprintf("%s change=%s items=%d", mutationOrSnapshot(e.Mutation), e.Change, e.Items)
	case event.Reverted:
		if e.Category == "" {
			return e.Mutation.String()
		}
		return fmt.Sprintf("%s %s", e.Mutation, e.Category)
	case event.CorrectionApplied:
		switch {
		case e.Removed:
			return fmt.Sprintf("%s %s removed", e.Key, e.Category)
		case e.UnitPrice != 0:
			return fmt.Sprintf("%s %s price=%d", e.Key, e.Category, e.UnitPrice)
		default:
			return fmt.Sprintf("%s %s quantity=%d", e.Key, e.Category, e.Quantity)
		}
	case event.StateChanged:
		return fmt.Sprintf("%s->%s", e.From, e.To)
	case event.ConnectivityChanged:
		if e.Online {
			return "online"
		}
		return "offline"
	case event.Enqueued:
		d := fmt.Sprintf("%s %s %s", e.OperationID, e.Mutation, e.Priority)
		if e.Merged {
			d += " merged"
		}
		return d
	case event.Evicted:
		return fmt.Sprintf("%s %s", e.OperationID, e.Mutation)
	case event.OperationCompleted:
		return fmt.Sprintf("%s %s attempts=%d", e.OperationID, e.Mutation, e.Attempts)
	case event.OperationFailed:
		return fmt.Sprintf("%s %s attempts=%d %s next=+%s", e.OperationID, e.Mutation, e.Attempts, e.Category, e.NextAttemptAt.Sub(Epoch))
	case event.OperationCancelled:
		return fmt.Sprintf("%s %s attempts=%d %s", e.OperationID, e.Mutation, e.Attempts, e.Category)
	case event.MigrationFinished:
		return fmt.Sprintf("%s %s migrated=%d conflicts=%d failed=%d", e.RunID, e.Status, e.Migrated, e.Conflicts, e.Failed)
	}
	return ""
}

func mutationOrSnapshot(m cart.Mutation) string {
	if m.Type == "" {
		return "snapshot"
	}
	return m.String()
}

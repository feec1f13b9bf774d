package queue

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/event"
	"github.com/roach88/cartsync/internal/retry"
)

// FailedOperation describes an operation dropped during a pass.
type FailedOperation struct {
	ID       string         `json:"id"`
	Mutation cart.Mutation  `json:"mutation"`
	Attempts int            `json:"attempts"`
	Category retry.Category `json:"category"`
	Message  string         `json:"message"`
}

// ProcessResult summarizes one processing pass.
type ProcessResult struct {
	Attempted int               `json:"attempted"`
	Completed int               `json:"completed"`
	Retrying  int               `json:"retrying"`
	Cancelled []FailedOperation `json:"cancelled,omitempty"`
	// Skipped counts operations left untouched: waiting on a dependency
	// or on their backoff delay.
	Skipped int `json:"skipped"`
}

// Process runs one pass over the queue. It returns ErrAlreadyProcessing
// if another pass is running, and does nothing while offline.
//
// Operations run in queue order. Each runs at most once per pass, and only
// once its dependencies have left the queue and its backoff has elapsed.
func (q *Queue) Process(ctx context.Context) (ProcessResult, error) {
	if !q.processing.CompareAndSwap(false, true) {
		return ProcessResult{}, ErrAlreadyProcessing
	}
	defer q.processing.Store(false)

	var res ProcessResult
	if !q.online() {
		q.logger.Debug("skipping queue pass while offline")
		return res, nil
	}

	attempted := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !q.online() {
			break
		}
		op, ok := q.claim(ctx, attempted)
		if !ok {
			break
		}
		attempted[op.ID] = true
		res.Attempted++

		err := q.exec.Replay(ctx, op.Mutation, op.Attempts)
		q.settle(ctx, op, err, &res)
	}

	q.mu.Lock()
	for _, op := range q.ops {
		if !attempted[op.ID] {
			res.Skipped++
		}
	}
	q.mu.Unlock()

	if res.Attempted > 0 {
		q.logger.Info("queue pass finished",
			"attempted", res.Attempted,
			"completed", res.Completed,
			"retrying", res.Retrying,
			"cancelled", len(res.Cancelled),
			"skipped", res.Skipped,
		)
	}
	return res, nil
}

// claim picks the first eligible operation, marks it processing and
// counts the attempt.
func (q *Queue) claim(ctx context.Context, attempted map[string]bool) (Operation, bool) {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if attempted[op.ID] || op.Status == StatusProcessing {
			continue
		}
		if op.NextAttemptAt.After(now) || q.waitingLocked(op) {
			continue
		}
		op.Status = StatusProcessing
		op.Attempts++
		op.UpdatedAt = now
		q.persistLocked(ctx)
		return op.clone(), true
	}
	return Operation{}, false
}

// waitingLocked reports whether any dependency of op is still queued.
func (q *Queue) waitingLocked(op *Operation) bool {
	for _, dep := range op.Dependencies {
		if q.indexLocked(dep) >= 0 {
			return true
		}
	}
	return false
}

// settle records the outcome of a replay.
func (q *Queue) settle(ctx context.Context, op Operation, err error, res *ProcessResult) {
	now := q.clock.Now()

	if err == nil {
		q.mu.Lock()
		q.removeLocked(op.ID)
		q.counters.completed++
		q.persistLocked(ctx)
		depth := len(q.ops)
		q.mu.Unlock()

		res.Completed++
		q.bus.Publish(event.OperationCompleted{OperationID: op.ID, Mutation: op.Mutation, Attempts: op.Attempts})
		q.metrics.QueueOutcome(ctx, "completed")
		q.metrics.QueueDepth(ctx, depth)
		return
	}

	ce, p := q.policy.Evaluate(err)
	retryable := p.Retryable && p.Strategy == retry.StrategyExponentialBackoff
	if !retryable || op.Attempts >= op.MaxAttempts {
		q.mu.Lock()
		q.removeLocked(op.ID)
		q.counters.cancelled++
		q.persistLocked(ctx)
		depth := len(q.ops)
		q.mu.Unlock()

		res.Cancelled = append(res.Cancelled, FailedOperation{
			ID:       op.ID,
			Mutation: op.Mutation,
			Attempts: op.Attempts,
			Category: ce.Category,
			Message:  ce.Error(),
		})
		q.logger.Warn("operation cancelled", "id", op.ID, "mutation", op.Mutation, "attempts", op.Attempts, "category", ce.Category)
		q.bus.Publish(event.OperationCancelled{OperationID: op.ID, Mutation: op.Mutation, Attempts: op.Attempts, Category: ce.Category})
		q.metrics.QueueOutcome(ctx, "cancelled")
		q.metrics.QueueDepth(ctx, depth)
		return
	}

	next := now.Add(q.backoff(p, op, ce))
	q.mu.Lock()
	if i := q.indexLocked(op.ID); i >= 0 {
		live := q.ops[i]
		live.Status = StatusFailed
		live.Attempts = op.Attempts
		live.LastCategory = ce.Category
		live.NextAttemptAt = next
		live.UpdatedAt = now
	}
	q.persistLocked(ctx)
	q.mu.Unlock()

	res.Retrying++
	q.logger.Debug("operation failed, will retry", "id", op.ID, "attempts", op.Attempts, "category", ce.Category, "next_attempt_at", next)
	q.bus.Publish(event.OperationFailed{OperationID: op.ID, Mutation: op.Mutation, Attempts: op.Attempts, Category: ce.Category, NextAttemptAt: next})
	q.metrics.QueueOutcome(ctx, "failed")
}

// backoff is the wait before the next attempt. Going offline mid-pass is
// not a server failure, so it is retried as soon as connectivity returns.
func (q *Queue) backoff(p retry.Policy, op Operation, ce *retry.Error) time.Duration {
	if errors.Is(ce, retry.ErrOffline) {
		return 0
	}
	return q.policy.Delay(p, op.Attempts-1)
}

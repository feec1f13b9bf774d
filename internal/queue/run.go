package queue

import (
	"context"
	"errors"
)

// Run drives processing until ctx is cancelled. A pass starts on the
// periodic timer, on Restored, and on the kick sent by Enqueue.
//
// Run must be called from at most one goroutine. It returns ctx.Err().
func (q *Queue) Run(ctx context.Context) error {
	ticker := q.clock.NewTicker(q.interval)
	defer ticker.Stop()

	q.logger.Info("offline queue loop starting", "interval", q.interval)
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("offline queue loop stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
			q.trigger(ctx, "timer")
		case <-q.restored:
			q.trigger(ctx, "connectivity")
		case <-q.kick:
			q.trigger(ctx, "enqueue")
		}
	}
}

// Restored signals that connectivity came back.
func (q *Queue) Restored() {
	signal(q.restored)
}

func (q *Queue) trigger(ctx context.Context, source string) {
	if q.Len() == 0 {
		return
	}
	_, err := q.Process(ctx)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyProcessing), errors.Is(err, context.Canceled):
	default:
		q.logger.Error("queue pass failed", "trigger", source, "error", err)
	}
}

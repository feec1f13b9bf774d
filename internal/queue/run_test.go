package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/cartsync/internal/cart"
)

func runQueue(t *testing.T, f *fixture) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.q.Run(ctx) }()
	f.clock.WaitForTimers(1)
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestRun_TimerTrigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, WithProcessInterval(30*time.Second))
	f.online = false
	f.enqueue(t, add("A", 1), PriorityNormal)
	f.online = true

	stop := runQueue(t, f)
	defer stop()

	assert.Empty(t, f.exec.replayed())
	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, f.exec.replayed(), 1)
}

func TestRun_EnqueueKick(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	stop := runQueue(t, f)
	defer stop()

	_, err := f.q.EnqueueWithPriority(context.Background(), add("A", 1), PriorityNormal, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRun_ConnectivityRestored(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	var online atomic.Bool
	f.q.online = online.Load

	stop := runQueue(t, f)
	defer stop()

	_, err := f.q.EnqueueWithPriority(context.Background(), cart.Update(key("A", "M"), 2), PriorityNormal, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.q.Len())

	online.Store(true)
	f.q.Restored()
	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	stop := runQueue(t, f)
	stop()
	assert.Zero(t, f.clock.Pending(), "ticker is stopped on return")
}

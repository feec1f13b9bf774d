package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/retry"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelA()
	defer cancelC()

	b.Publish(StateChanged{From: StateIdle, To: StateSyncing})
	b.Publish(ConnectivityChanged{Online: false})

	for _, ch := range []<-chan Event{a, c} {
		got := Drain(ch)
		require.Len(t, got, 2)
		assert.Equal(t, StateChanged{From: StateIdle, To: StateSyncing}, got[0])
		assert.Equal(t, "connectivity_changed", got[1].Name())
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(ConnectivityChanged{Online: true})
	b.Publish(ConnectivityChanged{Online: false})

	assert.Len(t, Drain(ch), 1)
	assert.Equal(t, int64(1), b.Dropped())
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(0)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(ConnectivityChanged{}) // no subscribers, no panic
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(0)
	b.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(0)
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")
}

func TestEvent_ExhaustiveSwitch(t *testing.T) {
	all := []Event{
		OptimisticApplied{Mutation: cart.ClearAll()},
		Synced{Change: cart.ChangeNone},
		Reverted{Category: retry.CategoryValidationError},
		CorrectionApplied{},
		StateChanged{},
		ConnectivityChanged{},
		Enqueued{},
		Evicted{},
		OperationCompleted{},
		OperationFailed{},
		OperationCancelled{},
		MigrationFinished{},
	}
	names := make(map[string]bool)
	for _, e := range all {
		switch e.(type) {
		case OptimisticApplied, Synced, Reverted, CorrectionApplied, StateChanged,
			ConnectivityChanged, Enqueued, Evicted, OperationCompleted,
			OperationFailed, OperationCancelled, MigrationFinished:
		default:
			t.Fatalf("unhandled variant %T", e)
		}
		names[e.Name()] = true
	}
	assert.Len(t, names, len(all), "names are unique")
}

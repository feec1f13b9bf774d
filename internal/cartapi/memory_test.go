package cartapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/retry"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func item(product, size string, qty int, price int64) cart.Item {
	return cart.Item{ProductID: product, Size: size, Quantity: qty, UnitPrice: price, AddedAt: t0}
}

func TestMemory_Mutations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	snap, err := m.Add(ctx, item("P1", "M", 2, 500))
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(1), snap.Version)

	snap, err = m.Add(ctx, item("P1", "M", 3, 500))
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Items[0].Quantity)

	snap, err = m.Update(ctx, cart.NewKey("P1", "M"), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Items[0].Quantity)

	snap, err = m.Remove(ctx, cart.NewKey("P1", "M"))
	require.NoError(t, err)
	assert.Empty(t, snap.Items)

	// Removing again is idempotent.
	_, err = m.Remove(ctx, cart.NewKey("P1", "M"))
	require.NoError(t, err)

	_, err = m.Update(ctx, cart.NewKey("P1", "M"), 1)
	assert.Equal(t, retry.CategoryValidationError, retry.CategoryOf(err))

	_, err = m.Replace(ctx, []cart.Item{item("A", "S", 1, 100), item("B", "S", 2, 200)})
	require.NoError(t, err)
	snap, err = m.Clear(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)

	assert.Equal(t, []string{OpAdd, OpAdd, OpUpdate, OpRemove, OpRemove, OpUpdate, OpReplace, OpClear}, m.Calls())
}

func TestMemory_BusinessRules(t *testing.T) {
	ctx := context.Background()

	t.Run("unavailable", func(t *testing.T) {
		m := NewMemory()
		m.SetUnavailable("P9")
		_, err := m.Add(ctx, item("P9", "M", 1, 100))
		assert.Equal(t, retry.CategoryProductUnavailable, retry.CategoryOf(err))
	})

	t.Run("insufficient stock carries available quantity", func(t *testing.T) {
		m := NewMemory()
		m.SetStock("P1", 3)
		_, err := m.Add(ctx, item("P1", "M", 4, 100))
		assert.Equal(t, retry.CategoryInsufficientStock, retry.CategoryOf(err))
		avail, _ := Details(err)
		require.NotNil(t, avail)
		assert.Equal(t, 3, *avail)
	})

	t.Run("price changed carries current price", func(t *testing.T) {
		m := NewMemory()
		m.SetPrice("P1", 650)
		_, err := m.Add(ctx, item("P1", "M", 1, 500))
		assert.Equal(t, retry.CategoryPriceChanged, retry.CategoryOf(err))
		_, price := Details(err)
		require.NotNil(t, price)
		assert.Equal(t, int64(650), *price)

		_, err = m.Add(ctx, item("P1", "M", 1, 650))
		assert.NoError(t, err)
	})

	t.Run("sum above limit", func(t *testing.T) {
		m := NewMemory(item("P1", "M", 9, 100))
		_, err := m.Add(ctx, item("P1", "M", 2, 100))
		assert.Equal(t, retry.CategoryValidationError, retry.CategoryOf(err))
		assert.Equal(t, 9, m.Snapshot().Items[0].Quantity)
	})
}

func TestMemory_Faults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.FailNext(NetworkError(), ErrServerUnavailable())
	_, err := m.Get(ctx)
	assert.Equal(t, retry.CategoryNetworkUnavailable, retry.CategoryOf(err))
	_, err = m.Get(ctx)
	assert.Equal(t, retry.CategoryServerUnavailable, retry.CategoryOf(err))
	_, err = m.Get(ctx)
	assert.NoError(t, err)

	boom := errors.New("boom")
	m.SetFault(func(op string, n int) error {
		if op == OpAdd && n == 2 {
			return boom
		}
		return nil
	})
	_, err = m.Add(ctx, item("A", "S", 1, 1))
	require.NoError(t, err)
	_, err = m.Add(ctx, item("B", "S", 1, 1))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, m.Snapshot().Items, 1, "failed call does not mutate")
	m.SetFault(nil)
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	k := cart.NewKey("P1", "M")

	_, err := Do(ctx, m, cart.Add(item("P1", "M", 1, 100)))
	require.NoError(t, err)
	snap, err := Do(ctx, m, cart.Update(k, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Items[0].Quantity)
	snap, err = Do(ctx, m, cart.Remove(k))
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	_, err = Do(ctx, m, cart.ClearAll())
	require.NoError(t, err)

	_, err = Do(ctx, m, cart.Mutation{Type: "bogus"})
	assert.Error(t, err)
}

func TestSnapshot_State(t *testing.T) {
	st, err := Snapshot{Items: []cart.Item{item("P1", "M", 2, 500)}}.State()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Len())

	_, err = Snapshot{Items: []cart.Item{item("P1", "M", 11, 500)}}.State()
	assert.True(t, cart.IsQuantityLimit(err))
}

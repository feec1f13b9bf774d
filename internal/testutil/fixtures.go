// Package testutil holds helpers shared by cartsync tests: deterministic
// identifiers, an event recorder and cart fixtures.
package testutil

import (
	"time"

	"github.com/roach88/cartsync/internal/cart"
)

// T0 is a fixed reference time for fixtures.
var T0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Item builds a cart line added at T0.
func Item(product, size string, qty int, price int64) cart.Item {
	return ItemAt(product, size, qty, price, T0)
}

// ItemAt builds a cart line added at t.
func ItemAt(product, size string, qty int, price int64, t time.Time) cart.Item {
	return cart.Item{ProductID: product, Size: size, Quantity: qty, UnitPrice: price, AddedAt: t}
}

// Cart builds a state from items and panics if they are invalid.
func Cart(items ...cart.Item) cart.State {
	return cart.MustState(items...)
}

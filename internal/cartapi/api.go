// Package cartapi is the client side of the remote Cart API plus an
// in-memory authoritative backend that can be served over HTTP for local
// development and tests.
package cartapi

import (
	"context"
	"fmt"

	"github.com/roach88/cartsync/internal/cart"
)

// Snapshot is the server's view of the cart returned by every call.
type Snapshot struct {
	Items   []cart.Item `json:"items"`
	Version int64       `json:"version"`
}

// State converts the snapshot into a validated cart state.
func (s Snapshot) State() (cart.State, error) {
	st, err := cart.NewState(s.Items...)
	if err != nil {
		return cart.State{}, fmt.Errorf("server snapshot: %w", err)
	}
	return st, nil
}

// API is the remote cart contract. Get is idempotent; every mutating call
// returns the full updated snapshot or a failure satisfying
// retry.StatusError.
type API interface {
	Get(ctx context.Context) (Snapshot, error)
	Add(ctx context.Context, item cart.Item) (Snapshot, error)
	Update(ctx context.Context, key cart.Key, quantity int) (Snapshot, error)
	Remove(ctx context.Context, key cart.Key) (Snapshot, error)
	Clear(ctx context.Context) (Snapshot, error)
	Replace(ctx context.Context, items []cart.Item) (Snapshot, error)
}

// Do issues the remote call matching m.
func Do(ctx context.Context, api API, m cart.Mutation) (Snapshot, error) {
	switch m.Type {
	case cart.MutationAdd:
		return api.Add(ctx, m.Item)
	case cart.MutationUpdate:
		return api.Update(ctx, m.Key(), m.Item.Quantity)
	case cart.MutationRemove:
		return api.Remove(ctx, m.Key())
	case cart.MutationClear:
		return api.Clear(ctx)
	}
	return Snapshot{}, fmt.Errorf("cartapi: unknown mutation type %q", m.Type)
}

package syncer

import (
	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/cartapi"
	"github.com/roach88/cartsync/internal/retry"
)

// corrective returns the mutations that bring the server line in line
// with the local correction made after m was rejected with ce. The server
// rejected m as a whole, so its line is still what it was before m.
//
// An available quantity is the most the line may hold. A PriceChanged
// rejection of an Update has nothing to deliver: updates carry no price,
// and the next snapshot brings the server's price.
func corrective(m cart.Mutation, ce *retry.Error) []cart.Mutation {
	k := m.Key()
	if k.IsZero() {
		return nil
	}
	available, price := cartapi.Details(ce)

	switch ce.Category {
	case retry.CategoryProductUnavailable:
		if m.Type == cart.MutationRemove {
			return nil
		}
		return []cart.Mutation{cart.Remove(k)}

	case retry.CategoryInsufficientStock:
		if available == nil {
			return nil
		}
		if *available <= 0 {
			return []cart.Mutation{cart.Remove(k)}
		}
		switch m.Type {
		case cart.MutationUpdate:
			return []cart.Mutation{cart.Update(k, *available)}
		case cart.MutationAdd:
			// Whatever the server line holds, the result must be exactly
			// the available quantity.
			it := m.Item
			it.Quantity = *available
			return []cart.Mutation{cart.Remove(k), cart.Add(it)}
		}

	case retry.CategoryPriceChanged:
		if price == nil || m.Type != cart.MutationAdd {
			return nil
		}
		it := m.Item
		it.UnitPrice = *price
		return []cart.Mutation{cart.Add(it)}
	}
	return nil
}

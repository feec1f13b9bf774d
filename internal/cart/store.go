package cart

import "fmt"

// AddItem inserts item, or sums its quantity into an existing line with the
// same key. A sum above MaxQuantity fails with ErrQuantityLimitExceeded and
// leaves s unchanged. When merging, the existing line keeps its AddedAt and
// takes the incoming unit price.
func AddItem(s State, item Item) (State, error) {
	if err := item.validate(); err != nil {
		return s, err
	}
	item = item.normalized()
	k := item.Key()

	items := s.Items()
	if i := s.index(k); i >= 0 {
		sum := items[i].Quantity + item.Quantity
		if sum > MaxQuantity {
			return s, &ItemError{Key: k, Quantity: sum, Err: ErrQuantityLimitExceeded}
		}
		items[i].Quantity = sum
		items[i].UnitPrice = item.UnitPrice
		return s.with(items), nil
	}
	return s.with(append(items, item)), nil
}

// UpdateItem sets the quantity of an existing line. A quantity of zero or
// less removes the line. Quantities above MaxQuantity are rejected.
func UpdateItem(s State, k Key, quantity int) (State, error) {
	k = NewKey(k.ProductID, k.Size)
	i := s.index(k)
	if i < 0 {
		return s, &ItemError{Key: k, Quantity: quantity, Err: ErrItemNotFound}
	}
	if quantity <= 0 {
		return RemoveItem(s, k)
	}
	if quantity > MaxQuantity {
		return s, &ItemError{Key: k, Quantity: quantity, Err: ErrQuantityLimitExceeded}
	}
	items := s.Items()
	items[i].Quantity = quantity
	return s.with(items), nil
}

// RemoveItem deletes the line stored under k.
func RemoveItem(s State, k Key) (State, error) {
	k = NewKey(k.ProductID, k.Size)
	i := s.index(k)
	if i < 0 {
		return s, &ItemError{Key: k, Err: ErrItemNotFound}
	}
	items := make([]Item, 0, len(s.items)-1)
	items = append(items, s.items[:i]...)
	items = append(items, s.items[i+1:]...)
	return s.with(items), nil
}

// SetPrice replaces the unit price of an existing line.
func SetPrice(s State, k Key, unitPrice int64) (State, error) {
	k = NewKey(k.ProductID, k.Size)
	i := s.index(k)
	if i < 0 {
		return s, &ItemError{Key: k, Err: ErrItemNotFound}
	}
	if unitPrice < 0 {
		return s, &ItemError{Key: k, Err: fmt.Errorf("%w: negative unit price %d", ErrInvalidItem, unitPrice)}
	}
	items := s.Items()
	items[i].UnitPrice = unitPrice
	return s.with(items), nil
}

// Clear returns the empty cart.
func Clear(State) State {
	return State{}
}

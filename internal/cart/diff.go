package cart

// Change classifies how a remote snapshot differs from local state.
type Change string

const (
	ChangeNone             Change = "none"
	ChangeItemCountChanged Change = "item_count_changed"
	ChangeQuantityChanged  Change = "quantity_changed"
	ChangePriceChanged     Change = "price_changed"
	ChangeItemRemoved      Change = "item_removed"
)

// Compare reports the most significant difference between local and
// remote, matching lines by key. A local line missing remotely outranks a
// count change, which outranks quantity, which outranks price.
func Compare(local, remote State) Change {
	var qty, price bool
	for _, l := range local.items {
		r, ok := remote.Get(l.Key())
		if !ok {
			return ChangeItemRemoved
		}
		if r.Quantity != l.Quantity {
			qty = true
		}
		if r.UnitPrice != l.UnitPrice {
			price = true
		}
	}
	switch {
	case local.Len() != remote.Len():
		return ChangeItemCountChanged
	case qty:
		return ChangeQuantityChanged
	case price:
		return ChangePriceChanged
	}
	return ChangeNone
}

package cart

// State is an immutable, ordered set of cart items unique by Key.
//
// The zero value is an empty cart. States are only produced by the
// functions in this package, which guarantees the invariants described in
// the package documentation.
type State struct {
	items []Item
}

// NewState builds a State from items, validating every invariant.
// Duplicate keys are rejected rather than merged.
func NewState(items ...Item) (State, error) {
	if err := Validate(items); err != nil {
		return State{}, err
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.normalized()
	}
	return State{items: out}, nil
}

// MustState is NewState for fixtures; it panics on invalid input.
func MustState(items ...Item) State {
	s, err := NewState(items...)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a candidate item list against the cart invariants and
// returns a ValidationErrors listing every offending item, or nil.
func Validate(items []Item) error {
	var errs ValidationErrors
	seen := make(map[Key]bool, len(items))
	for _, it := range items {
		if err := it.validate(); err != nil {
			errs = append(errs, err.(*ItemError))
			continue
		}
		k := it.Key()
		if seen[k] {
			errs = append(errs, &ItemError{Key: k, Quantity: it.Quantity, Err: errDuplicateKey})
			continue
		}
		seen[k] = true
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Items returns a copy of the items in cart order.
func (s State) Items() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of distinct lines.
func (s State) Len() int {
	return len(s.items)
}

// IsEmpty reports whether the cart has no lines.
func (s State) IsEmpty() bool {
	return len(s.items) == 0
}

// Get returns the item stored under k.
func (s State) Get(k Key) (Item, bool) {
	if i := s.index(k); i >= 0 {
		return s.items[i], true
	}
	return Item{}, false
}

// TotalQuantity sums the quantity of every line.
func (s State) TotalQuantity() int {
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

// Subtotal sums the line totals in minor currency units.
func (s State) Subtotal() int64 {
	var total int64
	for _, it := range s.items {
		total += it.LineTotal()
	}
	return total
}

// Equal reports whether both states hold the same items in the same order
// with identical quantities and prices. AddedAt is compared with
// time.Time.Equal so monotonic clock readings do not matter.
func (s State) Equal(o State) bool {
	if len(s.items) != len(o.items) {
		return false
	}
	for i := range s.items {
		a, b := s.items[i], o.items[i]
		if a.Key() != b.Key() || a.Quantity != b.Quantity || a.UnitPrice != b.UnitPrice || !a.AddedAt.Equal(b.AddedAt) {
			return false
		}
	}
	return true
}

func (s State) index(k Key) int {
	for i, it := range s.items {
		if it.Key() == k {
			return i
		}
	}
	return -1
}

// with returns a new State sharing nothing with s.
func (s State) with(items []Item) State {
	return State{items: items}
}

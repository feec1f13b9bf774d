package cart

import "fmt"

// MutationType names one of the four cart mutations.
type MutationType string

const (
	MutationAdd    MutationType = "add"
	MutationUpdate MutationType = "update"
	MutationRemove MutationType = "remove"
	MutationClear  MutationType = "clear"
)

// Valid reports whether t is one of the known mutation types.
func (t MutationType) Valid() bool {
	switch t {
	case MutationAdd, MutationUpdate, MutationRemove, MutationClear:
		return true
	}
	return false
}

// HasQuantity reports whether mutations of this type carry a quantity.
func (t MutationType) HasQuantity() bool {
	return t == MutationAdd || t == MutationUpdate
}

// Mutation is a single user intent against the cart. It is the payload
// shared by optimistic application, remote calls, and queued operations.
//
// Field use per type:
//
//	add     Item (all fields)
//	update  Item.ProductID, Item.Size, Item.Quantity (absolute)
//	remove  Item.ProductID, Item.Size
//	clear   none
type Mutation struct {
	Type MutationType `json:"type" cbor:"type"`
	Item Item         `json:"item" cbor:"item"`
}

// Add builds an add mutation.
func Add(item Item) Mutation {
	return Mutation{Type: MutationAdd, Item: item.normalized()}
}

// Update builds an update mutation setting k to quantity.
func Update(k Key, quantity int) Mutation {
	k = NewKey(k.ProductID, k.Size)
	return Mutation{Type: MutationUpdate, Item: Item{ProductID: k.ProductID, Size: k.Size, Quantity: quantity}}
}

// Remove builds a remove mutation for k.
func Remove(k Key) Mutation {
	k = NewKey(k.ProductID, k.Size)
	return Mutation{Type: MutationRemove, Item: Item{ProductID: k.ProductID, Size: k.Size}}
}

// ClearAll builds a clear mutation.
func ClearAll() Mutation {
	return Mutation{Type: MutationClear}
}

// Key returns the line targeted by the mutation. Clear targets no line and
// returns the zero Key.
func (m Mutation) Key() Key {
	if m.Type == MutationClear {
		return Key{}
	}
	return m.Item.Key()
}

// String renders a short human-readable form, e.g. "add P1/M x2".
func (m Mutation) String() string {
	switch m.Type {
	case MutationAdd, MutationUpdate:
		return fmt.Sprintf("%s %s x%d", m.Type, m.Key(), m.Item.Quantity)
	case MutationRemove:
		return fmt.Sprintf("%s %s", m.Type, m.Key())
	default:
		return string(m.Type)
	}
}

// Apply runs the mutation against s through the matching pure operation.
func Apply(s State, m Mutation) (State, error) {
	switch m.Type {
	case MutationAdd:
		return AddItem(s, m.Item)
	case MutationUpdate:
		return UpdateItem(s, m.Key(), m.Item.Quantity)
	case MutationRemove:
		return RemoveItem(s, m.Key())
	case MutationClear:
		return Clear(s), nil
	default:
		return s, fmt.Errorf("apply mutation: unknown type %q", m.Type)
	}
}

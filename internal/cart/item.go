package cart

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Quantity bounds for a single cart line.
const (
	MinQuantity = 1
	MaxQuantity = 10
)

// Key identifies a cart line. Two items with the same key are the same line.
type Key struct {
	ProductID string `json:"product_id" cbor:"product_id" yaml:"product_id"`
	Size      string `json:"size" cbor:"size" yaml:"size"`
}

// NewKey builds a normalized key. Both parts are trimmed and converted to
// Unicode NFC so that equivalent spellings compare equal.
func NewKey(productID, size string) Key {
	return Key{
		ProductID: normalize(productID),
		Size:      normalize(size),
	}
}

// String renders the key as "product/size".
func (k Key) String() string {
	return k.ProductID + "/" + k.Size
}

// IsZero reports whether the key has no product id.
func (k Key) IsZero() bool {
	return k.ProductID == ""
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Item is one cart line.
//
// UnitPrice is expressed in minor currency units (cents, yen) so that
// arithmetic stays exact.
type Item struct {
	ProductID string    `json:"product_id" cbor:"product_id"`
	Size      string    `json:"size" cbor:"size"`
	Quantity  int       `json:"quantity" cbor:"quantity"`
	UnitPrice int64     `json:"unit_price" cbor:"unit_price"`
	AddedAt   time.Time `json:"added_at" cbor:"added_at"`
}

// Key returns the normalized key of the item.
func (i Item) Key() Key {
	return NewKey(i.ProductID, i.Size)
}

// LineTotal returns quantity × unit price.
func (i Item) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// normalized returns a copy whose ProductID and Size are in key form.
func (i Item) normalized() Item {
	k := i.Key()
	i.ProductID = k.ProductID
	i.Size = k.Size
	return i
}

// validate checks the structural invariants of a single item.
func (i Item) validate() error {
	k := i.Key()
	switch {
	case k.IsZero():
		return &ItemError{Key: k, Quantity: i.Quantity, Err: fmt.Errorf("%w: empty product id", ErrInvalidItem)}
	case i.UnitPrice < 0:
		return &ItemError{Key: k, Quantity: i.Quantity, Err: fmt.Errorf("%w: negative unit price %d", ErrInvalidItem, i.UnitPrice)}
	case i.Quantity < MinQuantity:
		return &ItemError{Key: k, Quantity: i.Quantity, Err: fmt.Errorf("%w: quantity %d below minimum", ErrInvalidItem, i.Quantity)}
	case i.Quantity > MaxQuantity:
		return &ItemError{Key: k, Quantity: i.Quantity, Err: ErrQuantityLimitExceeded}
	}
	return nil
}

// Package cart holds the local cart model and the pure operations that
// transform it.
//
// A State is an ordered collection of Items, unique by Key
// (product id + size variant). States are values: every operation takes
// a State and returns a new one, leaving the input untouched. Nothing in
// this package performs I/O.
//
// # Invariants
//
//   - Quantity is always within [MinQuantity, MaxQuantity].
//   - An item whose quantity drops to zero or below is removed, never stored.
//   - Exceeding MaxQuantity is rejected with ErrQuantityLimitExceeded.
//     Quantities are never silently clamped.
//   - Keys are NFC-normalized and trimmed, so visually identical product
//     ids map to the same entry.
package cart

package cart

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestQuantityInvariant checks that no sequence of adds and updates can
// leave a line outside [MinQuantity, MaxQuantity].
func TestQuantityInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("quantities stay within bounds", prop.ForAll(
		func(adds []int, updates []int) bool {
			s := State{}
			k := NewKey("P1", "M")
			for _, q := range adds {
				next, err := AddItem(s, item("P1", "M", q, 100))
				if err == nil {
					s = next
				}
			}
			for _, q := range updates {
				if _, ok := s.Get(k); !ok {
					break
				}
				next, err := UpdateItem(s, k, q)
				if err == nil {
					s = next
				}
			}
			for _, it := range s.Items() {
				if it.Quantity < MinQuantity || it.Quantity > MaxQuantity {
					return false
				}
			}
			return Validate(s.Items()) == nil
		},
		gen.SliceOf(gen.IntRange(-2, 12)),
		gen.SliceOf(gen.IntRange(-2, 12)),
	))

	properties.TestingRun(t)
}

package syncer

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/cartsync/internal/cart"
)

// genState builds a valid cart from a list of quantities: line i gets
// product "P<i mod 6>" so that local and remote overlap often.
func genState(offset int) gopter.Gen {
	return gen.SliceOfN(6, gen.IntRange(0, cart.MaxQuantity)).Map(func(qtys []int) cart.State {
		var items []cart.Item
		for i, q := range qtys {
			if q == 0 {
				continue
			}
			items = append(items, item(fmt.Sprintf("P%d", (i+offset)%6), "M", q, int64(100*(q+offset))))
		}
		return cart.MustState(items...)
	})
}

func TestReconcile_Converges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("local equals remote after reconcile", prop.ForAll(
		func(local, remote cart.State) bool {
			got, change := Reconcile(local, remote)
			return got.Equal(remote) && (change == cart.ChangeNone) == sameLines(local, remote)
		},
		genState(0),
		genState(2),
	))

	properties.TestingRun(t)
}

// sameLines reports whether both carts hold identical lines in a different
// order, which Compare treats as no change.
func sameLines(a, b cart.State) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, it := range a.Items() {
		o, ok := b.Get(it.Key())
		if !ok || o.Quantity != it.Quantity || o.UnitPrice != it.UnitPrice {
			return false
		}
	}
	return true
}

func TestRebase(t *testing.T) {
	base := cart.MustState(item("P1", "M", 1, 100))
	got := rebase(base, []cart.Mutation{
		cart.Add(item("P2", "M", 2, 200)),
		cart.Update(cart.NewKey("GONE", "M"), 3),
		cart.Update(cart.NewKey("P1", "M"), 4),
	})
	assert.Equal(t, 2, got.Len())
	p1, _ := got.Get(cart.NewKey("P1", "M"))
	assert.Equal(t, 4, p1.Quantity)
}

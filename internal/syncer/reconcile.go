package syncer

import "github.com/roach88/cartsync/internal/cart"

// Reconcile returns the state local must become after a successful remote
// round-trip together with the classified difference. The result is
// always remote itself.
func Reconcile(local, remote cart.State) (cart.State, cart.Change) {
	return remote, cart.Compare(local, remote)
}

// rebase re-applies pending mutations on top of base. Mutations that no
// longer apply, such as an update to a line the server dropped, are
// skipped.
func rebase(base cart.State, pending []cart.Mutation) cart.State {
	s := base
	for _, m := range pending {
		if next, err := cart.Apply(s, m); err == nil {
			s = next
		}
	}
	return s
}

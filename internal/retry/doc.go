// Package retry classifies failures and derives retry policies.
//
// Classify is the only function in the module that inspects raw error
// shapes. It produces an *Error carrying a Category from the closed
// taxonomy and a Failure tagged Network, HTTP or Unknown. Everything
// downstream (the sync coordinator, the offline queue, the migration
// coordinator) branches on the Category alone.
//
// Delay for 0-indexed attempt n:
//
//	d = min(base × multiplier^n, cap)
//	delay = d + uniform[0, jitter × d]
//
// The Engine is stateless apart from its random source.
package retry

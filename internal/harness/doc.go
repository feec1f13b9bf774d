// Package harness runs cart sync scenarios against a real engine.
//
// A scenario is a YAML file describing an account's server cart, a list of
// steps (cart mutations, connectivity changes, injected server faults,
// queue passes, clock advances, login) and assertions over the resulting
// event trace and final state.
//
// Each run gets a fresh, isolated engine backed by an in-memory store, an
// in-memory Cart API, a fake clock fixed at Epoch, sequential operation
// ids ("op-1", "op-2", ...) and sequential migration run ids ("run-1",
// ...). Jitter is disabled. The event trace is therefore identical from run
// to run and can be compared with a golden file:
//
//	go test ./internal/harness -update
//
// regenerates testdata/golden/*.golden.
//
// The background queue loop is not started. Steps drive the queue with
// explicit "process" steps so that ordering never depends on goroutine
// scheduling.
package harness

// Package store provides durable key-value persistence for sync state.
//
// Everything the sync engine must survive a restart goes through the Store
// interface: the local cart, the offline queue snapshot, the guest cart
// snapshot and the pending-migration marker. Values are opaque byte
// slices; callers choose the encoding (see internal/codec).
//
// # Backends
//
//   - Memory: process-local map, used by tests and the scenario harness
//   - SQLite: single-file database (WAL mode, user_version migrations)
//   - Redis: shared key space under a configurable prefix
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Writes are last-writer-wins per key. A Set that returns nil is durable
// for the chosen backend.
package store

// Package syncer keeps the local cart consistent with the remote Cart API.
//
// A Coordinator applies each mutation optimistically, attempts the
// matching remote call, and reconciles local state against the returned
// server snapshot. The server is authoritative: a successful round-trip
// replaces local state wholesale, then re-applies any mutations still
// waiting in the offline queue.
//
// Failure handling follows the retry policy of the classified category:
//
//	exponential_backoff  hand to the offline queue, keep the optimistic state
//	refresh_credential   refresh once and retry immediately
//	local_correction     remove, clamp or reprice the line, surface the error
//	reauthenticate/none  revert the optimistic state, surface the error
//
// Sync-state machine:
//
//	Idle → Syncing → {Idle | Error | Offline}
//	Offline → Syncing   on connectivity restoration or retry
//	Error   → Syncing   on the next mutation or retry
//	any     → Conflict  while a migration resolves conflicts
//
// Mutations are serialized: at most one optimistic apply plus remote
// attempt is in flight per Coordinator, so reverting to the prior state is
// always exact.
package syncer

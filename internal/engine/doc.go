// Package engine composes the cart sync engine.
//
// An Engine owns one instance of every collaborator: the sync coordinator,
// the offline queue, the migration coordinator, the event bus and the
// session credential. Nothing is global, so tests and tools can run
// several isolated engines in one process.
//
// ARCHITECTURE:
//
//	AddToCart ... ClearCart
//	        │
//	        ▼
//	syncer.Coordinator ──retryable──▶ queue.Queue ──Replay──┐
//	        │  ▲                                            │
//	        │  └────────────────────────────────────────────┘
//	        ▼
//	   cartapi.API  ◀── migration.Coordinator (on login)
//
// Mutations return as soon as they are applied locally. Outcomes arrive
// later as events on the bus; subscribe with Events.
//
// Run drives the queue's trigger loop and must be started by the caller
// for background retries. Without it, ProcessQueue retries on demand.
package engine

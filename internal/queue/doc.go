// Package queue implements the durable offline queue.
//
// The queue holds cart mutations that could not be confirmed against the
// Cart API when they were made. Operations are ordered by priority, then
// enqueue time; same-line operations keep their relative order through
// dependencies. Every change writes the full queue to the store, and
// opening a queue resets operations left in processing by a crashed
// process.
//
// Processing is triggered three ways, any of which may be missed without
// losing work:
//
//   - a kick right after Enqueue while online and idle
//   - Restored, when connectivity returns
//   - a periodic ticker in Run
//
// A pass replays operations through an Executor, which in production is
// the sync coordinator.
package queue

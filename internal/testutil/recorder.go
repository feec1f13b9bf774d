package testutil

import (
	"sync"

	"github.com/roach88/cartsync/internal/event"
)

// DefaultBuffer is the subscription buffer used by NewRecorder.
const DefaultBuffer = 1024

// Subscriber is anything events can be subscribed from.
type Subscriber interface {
	Subscribe(buffer int) (<-chan event.Event, func())
}

// Recorder collects events from a bus for later inspection. Events are
// pulled from the subscription on each read, so a Recorder never needs a
// goroutine.
type Recorder struct {
	mu     sync.Mutex
	ch     <-chan event.Event
	cancel func()
	events []event.Event
}

// NewRecorder subscribes to s.
func NewRecorder(s Subscriber) *Recorder {
	ch, cancel := s.Subscribe(DefaultBuffer)
	return &Recorder{ch: ch, cancel: cancel}
}

// Events returns every event received so far, oldest first.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Drain(r.ch)...)
	return append([]event.Event(nil), r.events...)
}

// Names returns the names of every event received so far.
func (r *Recorder) Names() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name()
	}
	return out
}

// Reset forgets the events received so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Drain(r.ch)
	r.events = nil
}

// Close unsubscribes.
func (r *Recorder) Close() { r.cancel() }

// Of returns the recorded events of type T.
func Of[T event.Event](r *Recorder) []T {
	var out []T
	for _, e := range r.Events() {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

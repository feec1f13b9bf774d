package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Time stands still until Advance is
// called. Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	at       time.Time
	ch       chan time.Time
	interval time.Duration // non-zero for tickers
	stopped  bool
}

// NewFake returns a Fake clock reading start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a one-shot timer.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.timers = append(f.timers, &fakeTimer{at: f.now.Add(d), ch: ch})
	f.changed.Broadcast()
	return ch
}

// NewTicker registers a periodic timer.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{at: f.now.Add(d), ch: make(chan time.Time, 1), interval: d}
	f.timers = append(f.timers, t)
	f.changed.Broadcast()
	return &Ticker{C: t.ch, stop: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		t.stopped = true
	}}
}

// Set moves the clock to t without firing timers. Used to pin "now" in
// table tests.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance moves time forward by d and fires every timer whose deadline
// has been reached, in deadline order. A ticker spanning several
// intervals fires once per interval, subject to its buffer of one.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now
	f.mu.Unlock()

	for {
		due := f.expired(target)
		if len(due) == 0 {
			return
		}
		for _, t := range due {
			select {
			case t.ch <- target:
			default:
			}
		}
	}
}

func (f *Fake) expired(target time.Time) []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due, keep []*fakeTimer
	for _, t := range f.timers {
		switch {
		case t.stopped:
		case !t.at.After(target):
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		if t.interval > 0 {
			t.at = t.at.Add(t.interval)
			keep = append(keep, t)
		}
	}
	f.timers = keep
	return due
}

// WaitForTimers blocks until at least n timers are pending. It closes the
// race between a goroutine registering a ticker and the test advancing.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

// Pending returns the number of active timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

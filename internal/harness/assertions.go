package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/cartsync/internal/cart"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s\n", ev.Seq, ev.Step, ev.Type, ev.Detail)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i+1, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertItem:
		return assertLine("item", result.Final.Local, a)
	case AssertRemoteItem:
		return assertLine("remote_item", result.Final.Remote, a)
	case AssertNoItem:
		key := cart.NewKey(a.Product, a.Size).String()
		if l, ok := findLine(result.Final.Local, key); ok {
			return &AssertionError{Type: a.Type, Expected: "no line " + key, Actual: fmt.Sprintf("quantity %d", l.Quantity)}
		}
		return nil
	case AssertQueueLen:
		if result.Final.QueueLen != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Count), Actual: fmt.Sprint(result.Final.QueueLen)}
		}
		return nil
	case AssertSyncState:
		if result.Final.SyncState != a.State {
			return &AssertionError{Type: a.Type, Expected: a.State, Actual: result.Final.SyncState}
		}
		return nil
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	}
	return fmt.Errorf("unknown assertion type: %s", a.Type)
}

func findLine(ls []Line, key string) (Line, bool) {
	for _, l := range ls {
		if l.Key == key {
			return l, true
		}
	}
	return Line{}, false
}

func assertLine(kind string, ls []Line, a Assertion) error {
	key := cart.NewKey(a.Product, a.Size).String()
	l, ok := findLine(ls, key)
	if !ok {
		return &AssertionError{Type: kind, Expected: fmt.Sprintf("%s x%d", key, a.Quantity), Actual: "no such line"}
	}
	if l.Quantity != a.Quantity {
		return &AssertionError{Type: kind, Expected: fmt.Sprintf("%s x%d", key, a.Quantity), Actual: fmt.Sprintf("%s x%d", key, l.Quantity)}
	}
	if a.Price != 0 && l.Price != a.Price {
		return &AssertionError{Type: kind, Expected: fmt.Sprintf("%s price %d", key, a.Price), Actual: fmt.Sprintf("%s price %d", key, l.Price)}
	}
	return nil
}

func matches(ev TraceEvent, name, detail string) bool {
	return ev.Type == name && strings.Contains(ev.Detail, detail)
}

// assertTraceContains checks that some event has the name and detail.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a.Event, a.Detail) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("event %s with detail %q", a.Event, a.Detail),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the events appear in order. Other events
// may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.Type == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: strings.Join(a.Events, " -> "),
		Actual:   fmt.Sprintf("%q not found after %v", a.Events[next], a.Events[:next]),
		Trace:    trace,
	}
}

// assertTraceCount checks how many events match the name and detail.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if matches(ev, a.Event, a.Detail) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d x %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", n),
			Trace:    trace,
		}
	}
	return nil
}

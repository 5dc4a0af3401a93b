package harness

import (
	"fmt"
	"slices"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Assertion Assertion
	Message   string
	Expected  any
	Actual    any
}

func (e *AssertionError) Error() string {
	if e.Expected != nil || e.Actual != nil {
		return fmt.Sprintf("%s: %s (expected: %v, actual: %v)",
			e.Assertion.Type, e.Message, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: %s", e.Assertion.Type, e.Message)
}

// evaluateAssertions checks all assertions and returns their failure messages.
func evaluateAssertions(r *runner, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluateAssertion(r, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluateAssertion(r *runner, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(r.recorder.Events(a.Session), a)
	case AssertTraceCount:
		return assertTraceCount(r.recorder.Events(a.Session), a)
	case AssertTraceOrder:
		return assertTraceOrder(r.recorder.Events(a.Session), a)
	case AssertContainerExists:
		containers, err := r.containers()
		if err != nil {
			return &AssertionError{Assertion: a, Message: fmt.Sprintf("failed to list containers: %v", err)}
		}
		return assertContainerExists(containers, a)
	case AssertInitialVersion:
		v, ok := r.initial[a.Session]
		if !ok {
			return &AssertionError{Assertion: a, Message: fmt.Sprintf("session %s never opened", a.Session)}
		}
		if v != a.Version {
			return &AssertionError{Assertion: a, Message: "initial version mismatch", Expected: a.Version, Actual: v}
		}
		return nil
	case AssertState:
		s, ok := r.sessions[a.Session]
		if !ok {
			return &AssertionError{Assertion: a, Message: fmt.Sprintf("session %s never opened", a.Session)}
		}
		if got := s.State().String(); got != a.State {
			return &AssertionError{Assertion: a, Message: "state mismatch", Expected: a.State, Actual: got}
		}
		return nil
	default:
		return &AssertionError{Assertion: a, Message: fmt.Sprintf("unknown assertion type %q", a.Type)}
	}
}

func assertTraceContains(events []string, a Assertion) error {
	if slices.Contains(events, a.Event) {
		return nil
	}
	return &AssertionError{
		Assertion: a,
		Message:   fmt.Sprintf("session %s never logged %s", a.Session, a.Event),
		Actual:    events,
	}
}

func assertTraceCount(events []string, a Assertion) error {
	n := 0
	for _, ev := range events {
		if ev == a.Event {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Assertion: a,
			Message:   fmt.Sprintf("count of %s for session %s", a.Event, a.Session),
			Expected:  a.Count,
			Actual:    n,
		}
	}
	return nil
}

// assertTraceOrder checks that a.Events appear in events as a subsequence.
func assertTraceOrder(events []string, a Assertion) error {
	next := 0
	for _, ev := range events {
		if next < len(a.Events) && ev == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Assertion: a,
		Message:   fmt.Sprintf("session %s: %s not found in order", a.Session, a.Events[next]),
		Expected:  a.Events,
		Actual:    events,
	}
}

func assertContainerExists(containers []string, a Assertion) error {
	if slices.Contains(containers, a.Container) {
		return nil
	}
	return &AssertionError{
		Assertion: a,
		Message:   fmt.Sprintf("container %s does not exist", a.Container),
		Actual:    containers,
	}
}

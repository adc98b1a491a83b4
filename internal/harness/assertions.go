package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] frame %d %s target=%d %s", i+1, ev.Frame, ev.Type, ev.Target, ev.Props)
		if ev.Code != "" {
			fmt.Fprintf(&buf, " code=%s", ev.Code)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failures in assertion order.
func EvaluateAssertions(assertions []Assertion, result *Result) []error {
	var errs []error
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertSettleCount:
			err = assertSettleCount(result, a)
		case AssertSettledWith:
			err = assertSettledWith(result, a)
		case AssertAppliedState:
			err = assertAppliedState(result, a)
		case AssertApplyCalls:
			err = assertApplyCalls(result, a)
		case AssertNoSettleBefore:
			err = assertNoEvent(result, a, EventSettle, func(frame int64) bool { return frame < int64(a.Frame) })
		case AssertNoApplyAfter:
			err = assertNoEvent(result, a, EventApply, func(frame int64) bool { return frame > int64(a.Frame) })
		case AssertDropCount:
			err = assertDropCount(result, a)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func assertSettleCount(result *Result, a Assertion) error {
	got := result.Count(EventSettle, a.Target)
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertSettleCount,
		Expected: fmt.Sprintf("%d settle notification(s)%s", *a.Count, forTarget(a.Target)),
		Actual:   fmt.Sprintf("%d", got),
		Trace:    result.Trace,
	}
}

// assertSettledWith checks the last settle of the target carried exactly
// the expected map.
func assertSettledWith(result *Result, a Assertion) error {
	var (
		last  props.Map
		found bool
	)
	for _, ev := range result.Trace {
		if ev.Type == EventSettle && ev.Target == *a.Target {
			last, found = ev.Props, true
		}
	}
	if found && last.Equal(a.Props) {
		return nil
	}

	actual := "no settle notification"
	if found {
		actual = last.String()
	}
	return &AssertionError{
		Type:     AssertSettledWith,
		Expected: fmt.Sprintf("target %d settled with %s", *a.Target, a.Props),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

func assertAppliedState(result *Result, a Assertion) error {
	state, ok := result.State[*a.Target]
	if ok && state.Equal(a.Props) {
		return nil
	}

	actual := "target has no live view"
	if ok {
		actual = state.String()
	}
	return &AssertionError{
		Type:     AssertAppliedState,
		Expected: fmt.Sprintf("target %d view state %s", *a.Target, a.Props),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

func assertApplyCalls(result *Result, a Assertion) error {
	if result.ApplyCalls == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertApplyCalls,
		Expected: fmt.Sprintf("%d bulk apply call(s)", *a.Count),
		Actual:   fmt.Sprintf("%d", result.ApplyCalls),
		Trace:    result.Trace,
	}
}

// assertNoEvent fails on the first event of typ for the target whose frame
// matches the forbidden predicate.
func assertNoEvent(result *Result, a Assertion, typ string, forbidden func(frame int64) bool) error {
	for _, ev := range result.Trace {
		if ev.Type == typ && ev.Target == *a.Target && forbidden(ev.Frame) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("no %s for target %d (frame bound %d)", typ, *a.Target, a.Frame),
				Actual:   fmt.Sprintf("%s at frame %d with %s", typ, ev.Frame, ev.Props),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertDropCount(result *Result, a Assertion) error {
	got := 0
	for _, ev := range result.Trace {
		if ev.Type != EventDrop {
			continue
		}
		if a.Target != nil && ev.Target != *a.Target {
			continue
		}
		if a.Code != "" && ev.Code != a.Code {
			continue
		}
		got++
	}
	if got == *a.Count {
		return nil
	}

	expected := fmt.Sprintf("%d drop(s)%s", *a.Count, forTarget(a.Target))
	if a.Code != "" {
		expected += " with code " + a.Code
	}
	return &AssertionError{
		Type:     AssertDropCount,
		Expected: expected,
		Actual:   fmt.Sprintf("%d", got),
		Trace:    result.Trace,
	}
}

func forTarget(id *scheduler.TargetID) string {
	if id == nil {
		return ""
	}
	return fmt.Sprintf(" for target %d", *id)
}

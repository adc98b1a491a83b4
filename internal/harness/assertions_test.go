package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

func width(v float64) props.Map {
	return props.New(props.P("width", props.Number(v)))
}

func target(id int64) *scheduler.TargetID {
	t := scheduler.TargetID(id)
	return &t
}

func count(n int) *int {
	return &n
}

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Type: EventApply, Frame: 1, TimeMS: 16, Target: 1, Props: width(10), Batch: 1},
		{Type: EventApply, Frame: 2, TimeMS: 32, Target: 1, Props: width(20), Batch: 2},
		{Type: EventDrop, Frame: 2, TimeMS: 32, Target: 2, Props: width(5), Code: string(scheduler.DropUnknownTarget)},
		{Type: EventSettle, Frame: 5, TimeMS: 80, Target: 1, Props: width(20)},
	}
	r.State[1] = width(20)
	r.ApplyCalls = 2
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	assertions := []Assertion{
		{Type: AssertSettleCount, Count: count(1)},
		{Type: AssertSettleCount, Target: target(2), Count: count(0)},
		{Type: AssertSettledWith, Target: target(1), Props: width(20)},
		{Type: AssertAppliedState, Target: target(1), Props: width(20)},
		{Type: AssertApplyCalls, Count: count(2)},
		{Type: AssertNoSettleBefore, Target: target(1), Frame: 5},
		{Type: AssertNoApplyAfter, Target: target(1), Frame: 2},
		{Type: AssertDropCount, Count: count(1)},
		{Type: AssertDropCount, Target: target(2), Code: "UNKNOWN_TARGET", Count: count(1)},
		{Type: AssertDropCount, Code: "STALE_HANDLE", Count: count(0)},
	}

	assert.Empty(t, EvaluateAssertions(assertions, sampleResult()))
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		expected  string
		actual    string
	}{
		{
			name:      "settle count",
			assertion: Assertion{Type: AssertSettleCount, Target: target(1), Count: count(2)},
			expected:  "2 settle notification(s) for target 1",
			actual:    "1",
		},
		{
			name:      "settled with wrong map",
			assertion: Assertion{Type: AssertSettledWith, Target: target(1), Props: width(10)},
			expected:  `target 1 settled with {"width":10}`,
			actual:    `{"width":20}`,
		},
		{
			name:      "settled with no settle",
			assertion: Assertion{Type: AssertSettledWith, Target: target(2), Props: width(5)},
			actual:    "no settle notification",
		},
		{
			name:      "applied state of missing view",
			assertion: Assertion{Type: AssertAppliedState, Target: target(9), Props: width(1)},
			actual:    "target has no live view",
		},
		{
			name:      "apply calls",
			assertion: Assertion{Type: AssertApplyCalls, Count: count(1)},
			actual:    "2",
		},
		{
			name:      "settle too early",
			assertion: Assertion{Type: AssertNoSettleBefore, Target: target(1), Frame: 6},
			actual:    "settle at frame 5",
		},
		{
			name:      "apply too late",
			assertion: Assertion{Type: AssertNoApplyAfter, Target: target(1), Frame: 1},
			actual:    "apply at frame 2",
		},
		{
			name:      "drop count by code",
			assertion: Assertion{Type: AssertDropCount, Code: "STALE_HANDLE", Count: count(1)},
			expected:  "1 drop(s) with code STALE_HANDLE",
			actual:    "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions([]Assertion{tt.assertion}, sampleResult())
			require.Len(t, errs, 1)

			var ae *AssertionError
			require.ErrorAs(t, errs[0], &ae)
			assert.Equal(t, tt.assertion.Type, ae.Type)
			if tt.expected != "" {
				assert.Equal(t, tt.expected, ae.Expected)
			}
			assert.Contains(t, ae.Actual, tt.actual)
			assert.Len(t, ae.Trace, 4)
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertDropCount,
		Expected: "1 drop(s)",
		Actual:   "0",
		Trace:    sampleResult().Trace[2:3],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: drop_count")
	assert.Contains(t, msg, "Expected: 1 drop(s)")
	assert.Contains(t, msg, `[1] frame 2 drop target=2 {"width":5} code=UNKNOWN_TARGET`)
}

func TestEvaluateAssertions_Unknown(t *testing.T) {
	errs := EvaluateAssertions([]Assertion{{Type: "bogus"}}, sampleResult())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unknown assertion type: bogus")
}

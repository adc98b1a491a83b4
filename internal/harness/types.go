package harness

import (
	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

// Trace event types.
const (
	EventApply  = "apply"
	EventSettle = "settle"
	EventDrop   = "drop"
)

// TraceEvent is one observable effect of the scheduler.
type TraceEvent struct {
	Type   string             `json:"type"`
	Frame  int64              `json:"frame"`
	TimeMS int64              `json:"time_ms"`
	Target scheduler.TargetID `json:"target"`
	Props  props.Map          `json:"props"`
	// Batch numbers bulk apply calls from 1 (apply events only).
	Batch int64 `json:"batch,omitempty"`
	// Code is the drop code (drop events only).
	Code string `json:"code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains apply, settle and drop events in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final view state of every live target.
	State map[scheduler.TargetID]props.Map `json:"-"`

	// ApplyCalls counts bulk apply calls.
	ApplyCalls int `json:"apply_calls"`

	// Stats is the scheduler's final counter snapshot.
	Stats scheduler.Stats `json:"stats"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[scheduler.TargetID]props.Map),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Count returns the number of events of type typ, for target if target is
// non-nil.
func (r *Result) Count(typ string, target *scheduler.TargetID) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Type == typ && (target == nil || ev.Target == *target) {
			n++
		}
	}
	return n
}

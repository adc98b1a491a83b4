package harness

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
	"github.com/roach88/propsync/internal/view"
)

// Option configures a scenario run.
type Option func(*runner)

// WithLogger sets the logger handed to the scheduler. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

// WithObserver receives every trace event as it is recorded. Used by the
// CLI to journal simulated runs.
func WithObserver(fn func(TraceEvent)) Option {
	return func(r *runner) {
		r.observe = fn
	}
}

// Run executes a scenario against a fresh scheduler and view tree.
//
// Steps:
//  1. Create the scheduler with the scenario timing
//  2. Create a view node for each target and register it
//  3. For frames 1..run_frames: advance the frame clock, perform the
//     frame's steps, end the tick
//  4. Evaluate assertions against the trace and final state
//
// Returns an error only if the scenario cannot be executed at all; failed
// assertions are reported in Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	r := &runner{
		scenario: scenario,
		tree:     view.NewTree(),
		nodes:    make(map[scheduler.TargetID]*view.Node),
		result:   NewResult(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	interval := time.Duration(scenario.FrameIntervalMS) * time.Millisecond
	threshold := time.Duration(scenario.SettleThresholdMS) * time.Millisecond

	sched, err := scheduler.New(
		scheduler.ApplierFunc(r.apply),
		scheduler.NotifierFunc(r.settled),
		scheduler.WithFrameInterval(interval),
		scheduler.WithSettleThreshold(threshold),
		scheduler.WithDropHandler(r.dropped),
		scheduler.WithLogger(r.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	r.sched = sched

	for _, id := range scenario.Targets {
		if err := r.register(id); err != nil {
			return nil, err
		}
	}

	steps := make(map[int][]Step, len(scenario.Frames))
	for _, f := range scenario.Frames {
		steps[f.Frame] = append(steps[f.Frame], f.Steps...)
	}

	for n := 1; n <= scenario.RunFrames; n++ {
		r.frame = int64(n)
		r.now = time.Duration(n) * interval
		sched.AdvanceFrame(r.now)
		for _, step := range steps[n] {
			if err := r.step(step); err != nil {
				return nil, fmt.Errorf("frame %d: %w", n, err)
			}
		}
		sched.Drain()
	}
	sched.Stop()

	for _, id := range r.tree.Nodes() {
		state, _ := r.tree.State(id)
		r.result.State[id] = state
	}
	r.result.ApplyCalls = r.batches
	r.result.Stats = sched.Stats()

	for _, e := range EvaluateAssertions(scenario.Assertions, r.result) {
		r.result.AddError(e.Error())
	}
	return r.result, nil
}

// runner holds the state of one scenario execution. Everything runs on
// the calling goroutine, which owns the scheduler.
type runner struct {
	scenario *Scenario
	sched    *scheduler.Scheduler
	tree     *view.Tree
	nodes    map[scheduler.TargetID]*view.Node
	result   *Result
	logger   *slog.Logger
	observe  func(TraceEvent)

	frame   int64
	now     time.Duration
	batches int
}

func (r *runner) step(s Step) error {
	switch {
	case s.Enqueue != nil:
		r.sched.Enqueue(s.Enqueue.Target, s.Enqueue.Props)
	case s.Register != nil:
		return r.register(*s.Register)
	case s.Unregister != nil:
		r.sched.Unregister(*s.Unregister)
	case s.Destroy != nil:
		if n, ok := r.nodes[*s.Destroy]; ok {
			n.Destroy()
			delete(r.nodes, *s.Destroy)
		}
	}
	return nil
}

// register mounts a fresh view for id, replacing any previous one.
func (r *runner) register(id scheduler.TargetID) error {
	if old, ok := r.nodes[id]; ok {
		old.Destroy()
	}
	n, err := r.tree.CreateNode(id)
	if err != nil {
		return fmt.Errorf("create view for target %d: %w", id, err)
	}
	r.nodes[id] = n
	if err := r.sched.Register(id, n); err != nil {
		return fmt.Errorf("register target %d: %w", id, err)
	}
	return nil
}

func (r *runner) apply(ops []scheduler.Operation) (scheduler.ApplyReport, error) {
	report, err := r.tree.ApplyBatch(ops)
	if err != nil {
		return report, err
	}
	r.batches++
	for _, op := range ops {
		r.record(TraceEvent{
			Type:   EventApply,
			Target: op.Target,
			Props:  op.Props,
			Batch:  int64(r.batches),
		})
	}
	return report, nil
}

func (r *runner) settled(id scheduler.TargetID, final props.Map, _ uint64) {
	r.record(TraceEvent{Type: EventSettle, Target: id, Props: final})
}

func (r *runner) dropped(d *scheduler.Drop) {
	r.record(TraceEvent{
		Type:   EventDrop,
		Target: d.Target,
		Props:  d.Props,
		Code:   string(d.Code),
	})
}

func (r *runner) record(ev TraceEvent) {
	ev.Frame = r.frame
	ev.TimeMS = r.now.Milliseconds()
	r.result.Trace = append(r.result.Trace, ev)
	if r.observe != nil {
		r.observe(ev)
	}
}

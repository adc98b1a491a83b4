package scheduler

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/propsync/internal/props"
)

const frame = 16 * time.Millisecond

type fakeHandle struct {
	destroyed atomic.Bool
}

func (h *fakeHandle) Valid() bool { return !h.destroyed.Load() }

// recordingApplier copies every batch and keeps the merged native state.
type recordingApplier struct {
	calls [][]Operation
	state map[TargetID]props.Map
	fail  int // number of upcoming calls that fail
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{state: make(map[TargetID]props.Map)}
}

func (a *recordingApplier) ApplyBatch(ops []Operation) (ApplyReport, error) {
	if a.fail > 0 {
		a.fail--
		return ApplyReport{}, errors.New("native apply unavailable")
	}

	a.calls = append(a.calls, append([]Operation(nil), ops...))

	var report ApplyReport
	for _, op := range ops {
		current := a.state[op.Target]
		if current.Contains(op.Props) && !op.Props.IsEmpty() {
			report.Unchanged = append(report.Unchanged, op.Target)
		}
		a.state[op.Target] = current.Merge(op.Props)
	}
	return report, nil
}

func (a *recordingApplier) targetsIn(call int) []TargetID {
	var ids []TargetID
	for _, op := range a.calls[call] {
		ids = append(ids, op.Target)
	}
	return ids
}

type settleEvent struct {
	target TargetID
	props  props.Map
	seq    uint64
	at     time.Duration
}

type recordingNotifier struct {
	clock  *FrameClock
	events []settleEvent
}

func (n *recordingNotifier) Settled(id TargetID, final props.Map, seq uint64) {
	n.events = append(n.events, settleEvent{target: id, props: final, seq: seq, at: n.clock.Now()})
}

func (n *recordingNotifier) forTarget(id TargetID) []settleEvent {
	var out []settleEvent
	for _, ev := range n.events {
		if ev.target == id {
			out = append(out, ev)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	sched    *Scheduler
	applier  *recordingApplier
	notifier *recordingNotifier
	drops    []*Drop
	frameNo  int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{applier: newRecordingApplier()}
	f.notifier = &recordingNotifier{}

	opts = append([]Option{
		WithLogger(discardLogger()),
		WithDropHandler(func(d *Drop) { f.drops = append(f.drops, d) }),
	}, opts...)

	s, err := New(f.applier, f.notifier, opts...)
	require.NoError(t, err)
	f.notifier.clock = s.Clock()
	f.sched = s
	return f
}

func (f *fixture) register(t *testing.T, ids ...TargetID) map[TargetID]*fakeHandle {
	t.Helper()
	handles := make(map[TargetID]*fakeHandle, len(ids))
	for _, id := range ids {
		h := &fakeHandle{}
		require.NoError(t, f.sched.Register(id, h))
		handles[id] = h
	}
	return handles
}

// nextFrame advances to the next nominal frame, runs fn to enqueue that
// frame's updates, then ends the tick.
func (f *fixture) nextFrame(fn func(s *Scheduler)) time.Duration {
	f.frameNo++
	now := time.Duration(f.frameNo) * frame
	f.sched.AdvanceFrame(now)
	if fn != nil {
		fn(f.sched)
	}
	f.sched.Drain()
	return now
}

func (f *fixture) idleFrames(n int) {
	for i := 0; i < n; i++ {
		f.nextFrame(nil)
	}
}

func width(v float64) props.Map {
	return props.New(props.P("width", props.Number(v)))
}

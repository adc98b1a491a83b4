package scheduler

import (
	"log/slog"
	"time"

	"github.com/roach88/propsync/internal/props"
)

// DefaultSettleThreshold is the frame-time gap after which a target with no
// new updates counts as settled: about two frames at 60fps.
const DefaultSettleThreshold = 36 * time.Millisecond

// SettleState is the per-target state of the settle detector.
type SettleState int

const (
	// Dormant: no last-applied record; nothing to report.
	Dormant SettleState = iota
	// Active: updated recently, no recheck outstanding.
	Active
	// AwaitingRecheck: one recheck is scheduled for the next frame.
	AwaitingRecheck
)

// String returns the state name.
func (s SettleState) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Active:
		return "active"
	case AwaitingRecheck:
		return "awaiting_recheck"
	default:
		return "unknown"
	}
}

// lastApplied is the most recent map flushed for a target and the frame
// time of that flush.
type lastApplied struct {
	props props.Map
	at    time.Duration
	gen   uint64 // registration generation the update was applied under
	seq   uint64 // submitter sequence of the update
}

// Detector watches the gap between a target's last applied frame and the
// current frame, and emits one settle notification once the gap reaches the
// threshold.
//
// INVARIANTS:
//   - A target has a record iff it was flushed since registration and has
//     not been reported settled for that value
//   - A target has at most one outstanding recheck token
//
// CRITICAL: Called only from the presentation goroutine.
type Detector struct {
	registry     *Registry
	clock        *FrameClock
	threshold    time.Duration
	notifier     Notifier
	requestFrame func(TargetID) // next-frame callback primitive
	logger       *slog.Logger
	metrics      *Metrics
	stats        *counters

	records map[TargetID]lastApplied
	tokens  map[TargetID]struct{}
}

// Record stores m as the last-applied map for id at frame time at.
func (d *Detector) Record(id TargetID, m props.Map, at time.Duration, gen, seq uint64) {
	d.records[id] = lastApplied{props: m, at: at, gen: gen, seq: seq}
}

// Check runs the settle state machine for id:
//   - no record: nothing to compare against, stay dormant
//   - gap >= threshold: notify with the last-applied map and clear the record
//   - recheck already outstanding: nothing to do
//   - otherwise: schedule one recheck for the next frame
func (d *Detector) Check(id TargetID) {
	rec, ok := d.records[id]
	if !ok {
		return
	}

	// A target unregistered since its last flush never reports, even if
	// the id has been registered again in the meantime.
	if gen, ok := d.registry.generation(id); !ok || gen != rec.gen {
		d.Cancel(id)
		return
	}

	now := d.clock.Now()
	if now-rec.at >= d.threshold {
		delete(d.records, id)
		d.stats.settles.Add(1)
		d.metrics.settled()
		d.logger.Debug("target settled",
			"target", id,
			"last_frame_time", rec.at,
			"frame_time", now,
		)
		d.notifier.Settled(id, rec.props, rec.seq)
		return
	}

	if _, pending := d.tokens[id]; pending {
		return
	}

	d.tokens[id] = struct{}{}
	d.stats.rechecks.Add(1)
	d.metrics.recheck()
	d.requestFrame(id)
}

// fire is the recheck callback. A token cancelled since it was scheduled
// is ignored, which makes stale callbacks harmless.
func (d *Detector) fire(id TargetID) {
	if _, ok := d.tokens[id]; !ok {
		return
	}
	delete(d.tokens, id)
	d.Check(id)
}

// Cancel forgets the record and any outstanding recheck for id.
func (d *Detector) Cancel(id TargetID) {
	delete(d.records, id)
	delete(d.tokens, id)
}

// State reports the detector state of id.
func (d *Detector) State(id TargetID) SettleState {
	if _, ok := d.tokens[id]; ok {
		return AwaitingRecheck
	}
	if _, ok := d.records[id]; ok {
		return Active
	}
	return Dormant
}

// LastApplied returns the last-applied map for id, if the target has one.
func (d *Detector) LastApplied(id TargetID) (props.Map, bool) {
	rec, ok := d.records[id]
	return rec.props, ok
}
